package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// DeviceCookie identifies the browser. Local persisted state and the
	// in-memory session are scoped to it.
	DeviceCookie = "sh_device"
	// TokenCookie holds the provider access token.
	TokenCookie = "sh_token"
	// RefreshCookie holds the provider refresh token, when there is one.
	RefreshCookie = "sh_refresh"

	deviceMaxAge = 365 * 24 * time.Hour
	tokenMaxAge  = 7 * 24 * time.Hour
)

// contextKey is unexported so only this package can read or write these
// values: a plain string key could be shadowed by any other package.
type contextKey string

const deviceIDKey contextKey = "deviceID"

// Cookies writes and clears auth cookies. Secure should be true behind HTTPS.
type Cookies struct {
	Secure bool
}

// Device is a middleware that guarantees every request has a device ID.
// A browser without a valid sh_device cookie gets a new random one.
func (c Cookies) Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if cookie, err := r.Cookie(DeviceCookie); err == nil {
			if parsed, err := uuid.Parse(cookie.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, c.cookie(DeviceCookie, id, deviceMaxAge))
		}

		ctx := context.WithValue(r.Context(), deviceIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceIDFromContext returns the device ID set by the Device middleware.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceIDKey).(string)
	return id, ok && id != ""
}

// WithDeviceID attaches a device ID to ctx. Tests use it in place of the
// Device middleware.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDKey, id)
}

// FromRequest reads provider credentials from the request cookies.
func FromRequest(r *http.Request) Credentials {
	var creds Credentials
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		creds.AccessToken = cookie.Value
	}
	if cookie, err := r.Cookie(RefreshCookie); err == nil {
		creds.RefreshToken = cookie.Value
	}
	return creds
}

// SetCredentials stores creds in HttpOnly cookies. Empty credentials are a no-op.
func (c Cookies) SetCredentials(w http.ResponseWriter, creds Credentials) {
	if creds.Empty() {
		return
	}
	http.SetCookie(w, c.cookie(TokenCookie, creds.AccessToken, tokenMaxAge))
	if creds.RefreshToken != "" {
		http.SetCookie(w, c.cookie(RefreshCookie, creds.RefreshToken, tokenMaxAge))
	}
}

// ClearCredentials deletes the token cookies.
func (c Cookies) ClearCredentials(w http.ResponseWriter) {
	for _, name := range []string{TokenCookie, RefreshCookie} {
		cookie := c.cookie(name, "", 0)
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

// SetShortLived stores a single-use value (OAuth state, PKCE verifier) for ten minutes.
func (c Cookies) SetShortLived(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, c.cookie(name, value, 10*time.Minute))
}

// Take reads a short-lived cookie and deletes it.
func (c Cookies) Take(w http.ResponseWriter, r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	clear := c.cookie(name, "", 0)
	clear.MaxAge = -1
	http.SetCookie(w, clear)
	return cookie.Value
}

// cookie builds an HttpOnly, SameSite=Lax cookie. Lax is required so the
// cookie comes back on the top-level redirect from the OAuth provider.
func (c Cookies) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
