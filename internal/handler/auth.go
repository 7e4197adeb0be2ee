package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/session"
)

// Single-use cookies carried across the OAuth redirect.
const (
	stateCookie    = "sh_oauth_state"
	verifierCookie = "sh_oauth_verifier"
)

// AuthHandler runs the Google OAuth flow and sign-out.
//
//   - HandleGoogleLogin → redirect to the provider with state and a PKCE challenge
//   - HandleCallback    → exchange the code, set the token cookie, notify the session
//   - HandleLogout      → end the session and clear the cookies
type AuthHandler struct {
	provider auth.Provider
	sessions *session.Registry
	notifier *auth.Notifier
	cookies  auth.Cookies
	logger   *slog.Logger
}

func NewAuthHandler(
	provider auth.Provider,
	sessions *session.Registry,
	notifier *auth.Notifier,
	cookies auth.Cookies,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		sessions: sessions,
		notifier: notifier,
		cookies:  cookies,
		logger:   logger,
	}
}

// HandleGoogleLogin starts Google sign-in.
//
// HTTP: GET /auth/google/login
//
// PKCE FLOW:
//
//	login:    state, verifier → HttpOnly cookies (10 min, SameSite=Lax)
//	          redirect with state and S256(verifier) as the challenge
//	callback: state query == state cookie? else 400
//	          exchange code + verifier from the cookie → credentials
//
// The state proves the callback was started from this browser (CSRF). The
// verifier rides along in its own cookie, which scripts cannot read, and
// the provider only ever sees its S256 challenge until the code exchange.
// Both cookies are single use: the callback deletes them.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.provider.OAuthEnabled() {
		writeError(w, apperror.Forbidden("google sign-in is not configured"))
		return
	}

	state := xid.New().String()
	verifier := auth.NewVerifier()
	h.cookies.SetShortLived(w, stateCookie, state)
	h.cookies.SetShortLived(w, verifierCookie, verifier)

	http.Redirect(w, r, h.provider.AuthCodeURL(state, verifier), http.StatusTemporaryRedirect)
}

// HandleCallback completes Google sign-in.
//
// HTTP: GET /auth/callback?code=xxx&state=yyy
//
// The session of the device is told through the notifier rather than
// called directly: the page that started the redirect may already have
// bootstrapped as logged out.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	wantState := h.cookies.Take(w, r, stateCookie)
	verifier := h.cookies.Take(w, r, verifierCookie)

	if wantState == "" || r.URL.Query().Get("state") != wantState {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: authorization denied", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	sess, err := h.provider.ExchangeCode(r.Context(), code, verifier)
	if err != nil {
		h.logger.Error("auth callback: code exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}

	h.cookies.SetCredentials(w, sess.Credentials)
	if device, ok := auth.DeviceIDFromContext(r.Context()); ok {
		h.notifier.Publish(device, auth.Event{Type: auth.SignedIn, Credentials: sess.Credentials})
	}

	h.logger.Info("signed in with google", slog.String("auth_user_id", sess.Identity.ID))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout signs the device out.
//
// HTTP: POST /auth/logout
//
// POST, not GET, so a prefetch or a cross-site link cannot sign anyone out.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if s, ok := sessionFor(h.sessions, r); ok {
		if s.State() == session.Loading {
			s.Bootstrap(r.Context(), auth.FromRequest(r))
		}
		s.SignOut(r.Context())
	}
	h.cookies.ClearCredentials(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
