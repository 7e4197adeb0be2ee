package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/auth"
)

var _ auth.Provider = (*Auth)(nil)

// Auth implements auth.Provider over GoTrue.
//
// Google sign-in uses GoTrue's PKCE flow: the browser is sent to
// /auth/v1/authorize with our S256 challenge, GoTrue redirects back to
// redirectURL with ?code=..., and ExchangeCode trades it together with the
// verifier for a session.
type Auth struct {
	client      *Client
	redirectURL string
}

// Auth returns the auth API of c. redirectURL is the OAuth callback route.
func (c *Client) Auth(redirectURL string) *Auth {
	return &Auth{client: c, redirectURL: redirectURL}
}

// CurrentIdentity asks GoTrue who owns creds.
func (a *Auth) CurrentIdentity(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	if creds.Empty() {
		return nil, nil
	}

	req, err := a.client.newRequest(auth.WithCredentials(ctx, creds), http.MethodGet, "/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) || errors.Is(err, apperror.ErrForbidden) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting auth user: %w", err)
	}

	r := gjson.ParseBytes(resp.Body)
	id := r.Get("id").String()
	if id == "" {
		return nil, nil
	}
	return &auth.Identity{ID: id, Email: r.Get("email").String()}, nil
}

func (a *Auth) OAuthEnabled() bool {
	return true
}

func (a *Auth) AuthCodeURL(state, verifier string) string {
	redirect := a.redirectURL
	if state != "" {
		redirect += "?state=" + url.QueryEscape(state)
	}
	q := url.Values{}
	q.Set("provider", "google")
	q.Set("redirect_to", redirect)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	q.Set("code_challenge_method", "s256")
	return a.client.baseURL + "/auth/v1/authorize?" + q.Encode()
}

func (a *Auth) ExchangeCode(ctx context.Context, code, verifier string) (*auth.Session, error) {
	return a.token(ctx, "pkce", map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	})
}

// SignUp registers an email/password user. When the project requires email
// confirmation GoTrue returns the user without a session; the returned
// Session then has empty Credentials.
func (a *Auth) SignUp(ctx context.Context, email, password string) (*auth.Session, error) {
	req, err := a.client.newRequest(ctx, http.MethodPost, "/auth/v1/signup", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, fmt.Errorf("signing up: %w", err)
	}
	return parseSession(resp.Body)
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	sess, err := a.token(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		// GoTrue answers a wrong password with a plain 400.
		if errors.Is(err, apperror.ErrValidation) {
			return nil, apperror.Unauthorized("invalid email or password")
		}
		return nil, err
	}
	return sess, nil
}

// SignOut revokes the refresh tokens of creds. An already-invalid token
// counts as signed out.
func (a *Auth) SignOut(ctx context.Context, creds auth.Credentials) error {
	if creds.Empty() {
		return nil
	}
	req, err := a.client.newRequest(auth.WithCredentials(ctx, creds), http.MethodPost, "/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	if _, err := a.client.do(req); err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) || errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("signing out: %w", err)
	}
	return nil
}

func (a *Auth) token(ctx context.Context, grant string, body map[string]string) (*auth.Session, error) {
	req, err := a.client.newRequest(ctx, http.MethodPost, "/auth/v1/token?grant_type="+grant, body)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, fmt.Errorf("token grant %s: %w", grant, err)
	}
	return parseSession(resp.Body)
}

// parseSession reads either a session ({access_token, user:{...}}) or a bare
// user object ({id, email}).
func parseSession(body []byte) (*auth.Session, error) {
	r := gjson.ParseBytes(body)

	user := r.Get("user")
	if !user.Exists() {
		user = r
	}
	id := user.Get("id").String()
	if id == "" {
		return nil, fmt.Errorf("supabase: auth response has no user id")
	}

	return &auth.Session{
		Credentials: auth.Credentials{
			AccessToken:  r.Get("access_token").String(),
			RefreshToken: r.Get("refresh_token").String(),
		},
		Identity: auth.Identity{ID: id, Email: user.Get("email").String()},
	}, nil
}
