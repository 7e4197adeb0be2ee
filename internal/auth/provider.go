// Package auth talks to the external authentication provider and carries
// its credentials through the application.
//
// Two providers implement Provider:
//   - supabase.Auth, backed by Supabase's GoTrue API
//   - LocalProvider, backed by the sqlite identities table, JWT and bcrypt,
//     with optional Google sign-in
//
// The session core never sees which one is in use. It asks for the current
// identity, signs users up and in, and reacts to SignedIn/SignedOut events
// published on a Notifier.
package auth

import "context"

// Identity is the externally authenticated principal. ID is what
// model.User.AuthUserID links to.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Credentials are the provider tokens for one browser. They live in an
// HttpOnly cookie and travel through request contexts.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether there is no access token.
func (c Credentials) Empty() bool {
	return c.AccessToken == ""
}

// Session is the result of a successful sign-in, sign-up or code exchange.
// Credentials may be empty after sign-up when the provider requires email
// confirmation first.
type Session struct {
	Credentials Credentials
	Identity    Identity
}

// Provider is the external-auth contract.
type Provider interface {
	// CurrentIdentity resolves creds to an identity. Missing, expired or
	// revoked credentials return (nil, nil): "no session" is not an error.
	CurrentIdentity(ctx context.Context, creds Credentials) (*Identity, error)

	// OAuthEnabled reports whether Google sign-in is available.
	OAuthEnabled() bool
	// AuthCodeURL is where the browser goes to start Google sign-in.
	// verifier is the PKCE code verifier kept by the caller for ExchangeCode.
	AuthCodeURL(state, verifier string) string
	ExchangeCode(ctx context.Context, code, verifier string) (*Session, error)

	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, creds Credentials) error
}

type credentialsKey struct{}

// WithCredentials attaches creds to ctx. Backends that act on behalf of the
// user (Supabase row-level security) read them back with CredentialsFrom.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// CredentialsFrom returns the credentials attached to ctx, if any.
func CredentialsFrom(ctx context.Context) (Credentials, bool) {
	c, ok := ctx.Value(credentialsKey{}).(Credentials)
	return c, ok && !c.Empty()
}
