package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/repository"
)

var _ Provider = (*LocalProvider)(nil)

// LocalProvider is the embedded auth provider used with the sqlite backend.
// Identities live in the same database; access tokens are stateless JWTs.
type LocalProvider struct {
	identities repository.IdentityRepository
	tokens     *TokenService
	passwords  *PasswordService
	google     *GoogleProvider // nil when Google sign-in is not configured
}

func NewLocalProvider(
	identities repository.IdentityRepository,
	tokens *TokenService,
	passwords *PasswordService,
	google *GoogleProvider,
) *LocalProvider {
	return &LocalProvider{
		identities: identities,
		tokens:     tokens,
		passwords:  passwords,
		google:     google,
	}
}

// CurrentIdentity validates the access token and checks the identity still
// exists. Bad or expired tokens mean "no session".
func (p *LocalProvider) CurrentIdentity(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.Empty() {
		return nil, nil
	}

	claimed, err := p.tokens.Validate(creds.AccessToken)
	if err != nil {
		return nil, nil
	}

	ident, err := p.identities.GetIdentityByID(ctx, claimed.ID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: resolving identity: %w", err)
	}

	return &Identity{ID: ident.ID, Email: ident.Email}, nil
}

func (p *LocalProvider) OAuthEnabled() bool {
	return p.google != nil
}

func (p *LocalProvider) AuthCodeURL(state, verifier string) string {
	if p.google == nil {
		return ""
	}
	return p.google.AuthCodeURL(state, verifier)
}

// ExchangeCode completes Google sign-in: the verified Google subject is
// linked to (or creates) an identity, and a local token is issued for it.
func (p *LocalProvider) ExchangeCode(ctx context.Context, code, verifier string) (*Session, error) {
	if p.google == nil {
		return nil, apperror.Forbidden("google sign-in is not configured")
	}

	gc, err := p.google.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, err
	}

	ident, err := p.identities.UpsertGoogleIdentity(ctx, gc.Sub, gc.Email)
	if err != nil {
		return nil, fmt.Errorf("auth: linking google identity: %w", err)
	}

	return p.issue(ident)
}

// SignUp creates a password identity. An address that already has an
// identity is a Conflict.
func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := p.passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	ident := &repository.Identity{Email: email, PasswordHash: hash}
	if err := p.identities.CreateIdentity(ctx, ident); err != nil {
		return nil, err
	}

	return p.issue(ident)
}

// SignIn checks email and password. Unknown email, Google-only identity and
// wrong password all produce the same Unauthorized error.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	denied := apperror.Unauthorized("invalid email or password")

	ident, err := p.identities.GetIdentityByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, denied
		}
		return nil, fmt.Errorf("auth: looking up identity: %w", err)
	}
	if ident.PasswordHash == "" {
		return nil, denied
	}

	if err := p.passwords.Verify(ident.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			return nil, denied
		}
		return nil, err
	}

	return p.issue(ident)
}

// SignOut has nothing to revoke; the caller drops the cookie.
func (p *LocalProvider) SignOut(ctx context.Context, creds Credentials) error {
	return nil
}

func (p *LocalProvider) issue(ident *repository.Identity) (*Session, error) {
	id := Identity{ID: ident.ID, Email: ident.Email}
	token, err := p.tokens.Generate(id)
	if err != nil {
		return nil, err
	}
	return &Session{
		Credentials: Credentials{AccessToken: token},
		Identity:    id,
	}, nil
}

// NormalizeEmail trims and lower-cases an address and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email address is not valid")
	}
	return email, nil
}
