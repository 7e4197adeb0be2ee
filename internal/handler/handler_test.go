package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/handler"
	"github.com/sakif/starhunters/internal/localstore"
	"github.com/sakif/starhunters/internal/photo"
	"github.com/sakif/starhunters/internal/repository/sqlite"
	"github.com/sakif/starhunters/internal/session"
)

type noopPoller struct{}

func (noopPoller) Start(string, time.Duration, func()) {}
func (noopPoller) Stop(string)                         {}

type memPhotos struct{ keys []string }

func (m *memPhotos) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	m.keys = append(m.keys, key)
	return "https://cdn.test/" + key, nil
}

type testEnv struct {
	server *httptest.Server
	photos *memPhotos
}

func newTestEnv(t *testing.T, withPhotos bool) *testEnv {
	t.Helper()
	return newTestEnvWith(t, withPhotos, nil)
}

// newTestEnvWith lets wrap replace the local auth provider, for flows the
// local provider cannot drive on its own.
func newTestEnvWith(t *testing.T, withPhotos bool, wrap func(auth.Provider) auth.Provider) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-0123456789")
	require.NoError(t, err)
	var provider auth.Provider = auth.NewLocalProvider(db, tokens, auth.NewPasswordServiceWithCost(bcrypt.MinCost), nil)
	if wrap != nil {
		provider = wrap(provider)
	}
	notifier := auth.NewNotifier()

	env := &testEnv{photos: &memPhotos{}}
	deps := session.Deps{
		Backend:  db,
		Auth:     provider,
		Store:    localstore.NewMemory(),
		Poller:   noopPoller{},
		Notifier: notifier,
		Logger:   logger,
	}
	if withPhotos {
		deps.Photos = env.photos
	}
	sessions := session.NewRegistry(deps)
	t.Cleanup(sessions.Close)

	cookies := auth.Cookies{}
	pages, err := handler.NewPageHandler(sessions, provider.OAuthEnabled(), logger)
	require.NoError(t, err)
	api := handler.NewSessionHandler(sessions, cookies, logger)
	authH := handler.NewAuthHandler(provider, sessions, notifier, cookies, logger)

	r := chi.NewRouter()
	r.Use(cookies.Device)
	r.Get("/", pages.HandlePage)
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", api.HandleGet)
		r.Post("/session/bootstrap", api.HandleBootstrap)
		r.Post("/session/page", api.HandleNavigate)
		r.Post("/register", api.HandleRegister)
		r.Post("/login", api.HandleLogin)
		r.Post("/onboarding", api.HandleOnboarding)
		r.Post("/stars", api.HandleAddStar)
		r.Patch("/profile", api.HandleUpdateProfile)
		r.Post("/profile/photo", api.HandleUploadPhoto)
		r.Get("/users", api.HandleUsers)
		r.Get("/map", api.HandleMap)
		r.Post("/conversation/{userID}", api.HandleSelectPartner)
		r.Delete("/conversation", api.HandleClearPartner)
		r.Post("/messages", api.HandleSendMessage)
	})
	r.Get("/auth/google/login", authH.HandleGoogleLogin)
	r.Get("/auth/callback", authH.HandleCallback)
	r.Post("/auth/logout", authH.HandleLogout)

	env.server = httptest.NewServer(r)
	t.Cleanup(env.server.Close)
	return env
}

// browser is one device: its own cookie jar.
type browser struct {
	t      *testing.T
	env    *testEnv
	client *http.Client
}

func (e *testEnv) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, env: e, client: &http.Client{Jar: jar}}
}

func (b *browser) do(method, path string, body any) (*http.Response, map[string]any) {
	b.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(b.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, b.env.server.URL+path, rd)
	require.NoError(b.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return b.send(req)
}

func (b *browser) send(req *http.Request) (*http.Response, map[string]any) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(b.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (b *browser) register(name, email string) map[string]any {
	b.t.Helper()
	resp, view := b.do(http.MethodPost, "/api/register", map[string]any{
		"name": name, "age": 28, "gender": "mujer", "email": email, "password": "secret123",
		"age_confirmed": true, "accept_terms": true,
	})
	require.Equal(b.t, http.StatusCreated, resp.StatusCode, "register: %v", view)
	return view
}

func userField(view map[string]any, key string) any {
	u, _ := view["user"].(map[string]any)
	return u[key]
}

func TestSessionStartsLoggedOut(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)

	resp, view := b.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "logged_out", view["state"])
	assert.Equal(t, "home", view["screen"])
	assert.Nil(t, view["user"])
}

func TestPageShell(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)

	resp, err := b.client.Get(env.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	html, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(html), `data-screen="home"`)
	assert.NotContains(t, string(html), "Entrar con Google", "google sign-in is off")
}

func TestRegisterAddStarAndProfile(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)

	view := b.register("Lucía", "lucia@example.com")
	assert.Equal(t, "logged_in", view["state"])
	assert.Equal(t, "profile", view["screen"])
	assert.Equal(t, "Bronce", userField(view, "level"))

	for i := 0; i < 11; i++ {
		resp, v := b.do(http.MethodPost, "/api/stars", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		view = v
	}
	assert.EqualValues(t, 11, userField(view, "stars"))
	assert.Equal(t, "Plata", userField(view, "level"))
	progress := view["progress"].(map[string]any)
	assert.Equal(t, "Plata", progress["level"])

	resp, view := b.do(http.MethodPatch, "/api/profile", map[string]any{"bio": "hola", "visible_on_map": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hola", userField(view, "bio"))
	assert.Equal(t, true, userField(view, "visible_on_map"))

	// A reload resumes the session from the token cookie.
	resp, view = b.do(http.MethodPost, "/api/session/bootstrap", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "logged_in", view["state"])
}

func TestRegisterValidationError(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)

	resp, body := b.do(http.MethodPost, "/api/register", map[string]any{
		"name": "Lucía", "age": 16, "gender": "mujer", "email": "l@example.com", "password": "secret123",
		"age_confirmed": true, "accept_terms": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["error"])
	assert.Equal(t, "age", body["field"])
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t, false)
	env.browser(t).register("Ana", "ana@example.com")

	resp, body := env.browser(t).do(http.MethodPost, "/api/register", map[string]any{
		"name": "Otra", "age": 30, "gender": "mujer", "email": "ANA@example.com", "password": "secret123",
		"age_confirmed": true, "accept_terms": true,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["error"])
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/login", strings.NewReader(`{"email":`))
	require.NoError(t, err)
	resp, body := b.send(req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "body", body["field"])
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, false)
	first := env.browser(t)
	first.register("Ana", "ana@example.com")

	b := env.browser(t)
	resp, body := b.do(http.MethodPost, "/api/login", map[string]any{"email": "ana@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])

	resp, view := b.do(http.MethodPost, "/api/login", map[string]any{"email": "ana@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "logged_in", view["state"])
	assert.Equal(t, "Ana", userField(view, "name"))
}

func TestMembersOnlyEndpoints(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/stars"},
		{http.MethodGet, "/api/users"},
		{http.MethodGet, "/api/map"},
		{http.MethodPost, "/api/conversation/someone"},
	} {
		resp, _ := b.do(tc.method, tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestConversation(t *testing.T) {
	env := newTestEnv(t, false)
	ana := env.browser(t)
	bea := env.browser(t)
	anaView := ana.register("Ana", "ana@example.com")
	beaView := bea.register("Bea", "bea@example.com")
	beaID := userField(beaView, "id").(string)
	anaID := userField(anaView, "id").(string)

	resp, view := ana.do(http.MethodPost, "/api/conversation/"+beaID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chat", view["screen"])

	resp, view = ana.do(http.MethodPost, "/api/messages", map[string]any{"content": "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	thread := view["thread"].([]any)
	require.Len(t, thread, 1)
	last := thread[0].(map[string]any)
	assert.Equal(t, "hi", last["content"])
	assert.Equal(t, anaID, last["sender_id"])
	assert.Equal(t, beaID, last["recipient_id"])

	resp, view = bea.do(http.MethodPost, "/api/conversation/"+anaID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, view["thread"], 1, "same conversation from the other side")

	resp, view = ana.do(http.MethodDelete, "/api/conversation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, view["partner"])

	resp, _ = ana.do(http.MethodPost, "/api/conversation/nobody", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUsersAndMap(t *testing.T) {
	env := newTestEnv(t, false)
	ana := env.browser(t)
	ana.register("Ana", "ana@example.com")
	bea := env.browser(t)
	bea.register("Bea", "bea@example.com")
	resp, _ := bea.do(http.MethodPatch, "/api/profile", map[string]any{"visible_on_map": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Ana's roster was loaded at login; a reload picks up Bea.
	ana.do(http.MethodPost, "/api/session/bootstrap", nil)

	resp, body := ana.do(http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["users"], 1)

	resp, body = ana.do(http.MethodGet, "/api/map", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["users"], 1)
}

func TestNavigate(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)

	resp, view := b.do(http.MethodPost, "/api/session/page", map[string]any{"page": "login"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "login", view["screen"])

	resp, _ = b.do(http.MethodPost, "/api/session/page", map[string]any{"page": "faq"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func photoRequest(t *testing.T, url, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="photo"; filename="`+filename+`"`)
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// pngHeader is enough for http.DetectContentType to answer image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUploadPhoto(t *testing.T) {
	env := newTestEnv(t, true)
	b := env.browser(t)
	b.register("Ana", "ana@example.com")

	resp, view := b.send(photoRequest(t, env.server.URL+"/api/profile/photo", "me.png", "", pngHeader))
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", view)
	require.Len(t, env.photos.keys, 1)
	assert.Equal(t, "https://cdn.test/"+env.photos.keys[0], userField(view, "profile_photo_url"))

	resp, body := b.send(photoRequest(t, env.server.URL+"/api/profile/photo", "notes.txt", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "photo", body["field"])

	big := make([]byte, photo.MaxSize+1)
	resp, _ = b.send(photoRequest(t, env.server.URL+"/api/profile/photo", "big.png", "image/png", big))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadPhotoNotConfigured(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)
	b.register("Ana", "ana@example.com")

	resp, _ := b.send(photoRequest(t, env.server.URL+"/api/profile/photo", "me.png", "image/png", pngHeader))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, false)
	b := env.browser(t)
	b.register("Ana", "ana@example.com")

	resp, err := b.client.Post(env.server.URL+"/auth/logout", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "redirect to the page shell is followed")

	_, view := b.do(http.MethodPost, "/api/session/bootstrap", nil)
	assert.Equal(t, "logged_out", view["state"], "token cookie and cached user are gone")
}

func TestGoogleLoginDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	resp, body := env.browser(t).do(http.MethodGet, "/auth/google/login", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["error"])
}

func TestCallbackRejectsBadState(t *testing.T) {
	env := newTestEnv(t, false)
	resp, _ := env.browser(t).do(http.MethodGet, "/auth/callback?code=abc&state=forged", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// googleProvider plays Google on top of the local provider: it accepts one
// authorization code and signs in as one fixed identity.
type googleProvider struct {
	auth.Provider
	ident auth.Identity
}

const googleToken = "google-access-token"

func (g *googleProvider) OAuthEnabled() bool { return true }

func (g *googleProvider) AuthCodeURL(state, _ string) string {
	return "https://accounts.test/o/auth?state=" + url.QueryEscape(state)
}

func (g *googleProvider) ExchangeCode(_ context.Context, code, verifier string) (*auth.Session, error) {
	if code != "good-code" || verifier == "" {
		return nil, apperror.Unauthorized("invalid authorization code")
	}
	return &auth.Session{Credentials: auth.Credentials{AccessToken: googleToken}, Identity: g.ident}, nil
}

func (g *googleProvider) CurrentIdentity(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	if creds.AccessToken == googleToken {
		ident := g.ident
		return &ident, nil
	}
	return g.Provider.CurrentIdentity(ctx, creds)
}

func withGoogle(p auth.Provider) auth.Provider {
	return &googleProvider{Provider: p, ident: auth.Identity{ID: "google-sub-1", Email: "Gala@Example.com"}}
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestGoogleSignInCompletes(t *testing.T) {
	env := newTestEnvWith(t, false, withGoogle)
	b := env.browser(t)
	b.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	// The page bootstraps logged out before the redirect.
	_, view := b.do(http.MethodGet, "/api/session", nil)
	require.Equal(t, "logged_out", view["state"])

	resp, _ := b.do(http.MethodGet, "/auth/google/login", nil)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.test", loc.Host)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	verifier := cookieNamed(resp, "sh_oauth_verifier")
	require.NotNil(t, verifier)
	assert.True(t, verifier.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, verifier.SameSite)
	assert.NotContains(t, loc.String(), verifier.Value, "only the challenge reaches the provider")

	resp, _ = b.do(http.MethodGet, "/auth/callback?code=good-code&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	token := cookieNamed(resp, auth.TokenCookie)
	require.NotNil(t, token)
	assert.Equal(t, googleToken, token.Value)

	// New identity, no profile yet.
	_, view = b.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, "onboarding_pending", view["state"])
	assert.Equal(t, "gala@example.com", view["pending_email"])

	// A second callback with the used state is refused.
	resp, _ = b.do(http.MethodGet, "/auth/callback?code=good-code&state="+url.QueryEscape(state), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGoogleCallbackExchangeFailure(t *testing.T) {
	env := newTestEnvWith(t, false, withGoogle)
	b := env.browser(t)
	b.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, _ := b.do(http.MethodGet, "/auth/google/login", nil)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	resp, _ = b.do(http.MethodGet, "/auth/callback?code=stolen&state="+url.QueryEscape(loc.Query().Get("state")), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?auth=failed", resp.Header.Get("Location"))
	assert.Nil(t, cookieNamed(resp, auth.TokenCookie))

	_, view := b.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, "logged_out", view["state"])
}
