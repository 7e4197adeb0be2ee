package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/repository"
)

// fakeIdentities is an in-memory IdentityRepository.
type fakeIdentities struct {
	mu     sync.Mutex
	byID   map[string]*repository.Identity
	getErr error
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{byID: make(map[string]*repository.Identity)}
}

func (f *fakeIdentities) CreateIdentity(_ context.Context, ident *repository.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident.Email = strings.ToLower(ident.Email)
	for _, existing := range f.byID {
		if existing.Email == ident.Email {
			return apperror.Conflict("identity", ident.Email)
		}
	}
	ident.ID = xid.New().String()
	cp := *ident
	f.byID[ident.ID] = &cp
	return nil
}

func (f *fakeIdentities) GetIdentityByID(_ context.Context, id string) (*repository.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	ident, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("identity", id)
	}
	cp := *ident
	return &cp, nil
}

func (f *fakeIdentities) GetIdentityByEmail(_ context.Context, email string) (*repository.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.byID {
		if ident.Email == strings.ToLower(email) {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("identity", email)
}

func (f *fakeIdentities) UpsertGoogleIdentity(ctx context.Context, sub, email string) (*repository.Identity, error) {
	return nil, errors.New("not used")
}

func newTestLocalProvider(t *testing.T) (*LocalProvider, *fakeIdentities) {
	t.Helper()
	ids := newFakeIdentities()
	return NewLocalProvider(ids, newTestTokenService(t), newTestPasswordService(), nil), ids
}

func TestLocalProvider_SignUpThenCurrentIdentity(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	sess, err := p.SignUp(ctx, " Ana@Example.com ", "estrella")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if sess.Credentials.Empty() {
		t.Fatal("SignUp() returned no access token")
	}
	if sess.Identity.Email != "ana@example.com" {
		t.Errorf("Identity.Email = %q, want normalized", sess.Identity.Email)
	}

	ident, err := p.CurrentIdentity(ctx, sess.Credentials)
	if err != nil {
		t.Fatalf("CurrentIdentity() error = %v", err)
	}
	if ident == nil || ident.ID != sess.Identity.ID {
		t.Errorf("CurrentIdentity() = %+v, want %s", ident, sess.Identity.ID)
	}
}

func TestLocalProvider_SignUpValidation(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	if _, err := p.SignUp(ctx, "not-an-email", "estrella"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("SignUp(bad email) error = %v, want ErrValidation", err)
	}
	if _, err := p.SignUp(ctx, "ana@example.com", "123"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("SignUp(short password) error = %v, want ErrValidation", err)
	}
}

func TestLocalProvider_SignUpDuplicate(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	if _, err := p.SignUp(ctx, "ana@example.com", "estrella"); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := p.SignUp(ctx, "ana@example.com", "estrella"); !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("second SignUp() error = %v, want ErrConflict", err)
	}
}

func TestLocalProvider_SignIn(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	created, err := p.SignUp(ctx, "ana@example.com", "estrella")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	sess, err := p.SignIn(ctx, "ana@example.com", "estrella")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if sess.Identity.ID != created.Identity.ID {
		t.Errorf("SignIn() identity = %s, want %s", sess.Identity.ID, created.Identity.ID)
	}

	for _, c := range []struct{ email, pw string }{
		{"ana@example.com", "equivocada"},
		{"nadie@example.com", "estrella"},
	} {
		if _, err := p.SignIn(ctx, c.email, c.pw); !errors.Is(err, apperror.ErrUnauthorized) {
			t.Errorf("SignIn(%s) error = %v, want ErrUnauthorized", c.email, err)
		}
	}
}

// Tokens that do not resolve are "no session", not failures.
func TestLocalProvider_CurrentIdentity_NoSession(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	expired, _ := p.tokens.GenerateWithDuration(Identity{ID: "ident-1"}, -time.Hour)
	orphan, _ := p.tokens.Generate(Identity{ID: "deleted-identity"})

	for name, creds := range map[string]Credentials{
		"empty":   {},
		"garbage": {AccessToken: "garbage"},
		"expired": {AccessToken: expired},
		"orphan":  {AccessToken: orphan},
	} {
		ident, err := p.CurrentIdentity(ctx, creds)
		if err != nil || ident != nil {
			t.Errorf("%s: CurrentIdentity() = %+v, %v, want nil, nil", name, ident, err)
		}
	}
}

func TestLocalProvider_CurrentIdentity_StorageFailure(t *testing.T) {
	p, ids := newTestLocalProvider(t)
	token, _ := p.tokens.Generate(Identity{ID: "ident-1"})
	ids.getErr = errors.New("database is locked")

	if _, err := p.CurrentIdentity(context.Background(), Credentials{AccessToken: token}); err == nil {
		t.Fatal("CurrentIdentity() error = nil, want storage failure")
	}
}

func TestLocalProvider_GoogleDisabled(t *testing.T) {
	p, _ := newTestLocalProvider(t)

	if p.OAuthEnabled() {
		t.Error("OAuthEnabled() = true without a Google provider")
	}
	if p.AuthCodeURL("state", "verifier") != "" {
		t.Error("AuthCodeURL() should be empty when Google is disabled")
	}
	if _, err := p.ExchangeCode(context.Background(), "code", "verifier"); !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("ExchangeCode() error = %v, want ErrForbidden", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Leo@Example.COM ")
	if err != nil || got != "leo@example.com" {
		t.Errorf("NormalizeEmail() = %q, %v", got, err)
	}
	for _, bad := range []string{"", "leo", "Leo <leo@example.com>"} {
		if _, err := NormalizeEmail(bad); err == nil {
			t.Errorf("NormalizeEmail(%q) error = nil", bad)
		}
	}
}
