// Package session is the per-device session core: it works out who the
// visitor is, keeps a mirror of their user record and messages fresh
// against the backend, and runs the actions the screens trigger.
//
// STATE MACHINE:
//
//	Loading ──► LoggedOut
//	        ├─► OnboardingPending ──(CompleteOnboarding)──► LoggedIn
//	        └─► LoggedIn ──(SignOut)──► LoggedOut
//
// A Session is the explicit context object for one browser. It is built by
// Registry.Get, established by Bootstrap and torn down by SignOut. Every
// field is guarded by mu, and backend calls are made with mu released so a
// slow request never blocks the screens.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/localstore"
	"github.com/sakif/starhunters/internal/metrics"
	"github.com/sakif/starhunters/internal/model"
	"github.com/sakif/starhunters/internal/page"
	"github.com/sakif/starhunters/internal/photo"
	"github.com/sakif/starhunters/internal/repository"
)

type State string

const (
	Loading           State = "loading"
	LoggedOut         State = "logged_out"
	OnboardingPending State = "onboarding_pending"
	LoggedIn          State = "logged_in"
)

// DefaultInterval is the refresh period when Deps.Interval is zero.
const DefaultInterval = 3 * time.Second

// eventTimeout bounds the lookup run when a SignedIn notification arrives.
// The notification has no request context of its own.
const eventTimeout = 15 * time.Second

// Poller schedules the refresh loop. *poll.Scheduler implements it.
type Poller interface {
	Start(name string, interval time.Duration, fn func())
	Stop(name string)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Backend  repository.Backend
	Auth     auth.Provider
	Store    localstore.Store
	Photos   photo.Store // nil disables uploads
	Poller   Poller
	Notifier *auth.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Interval time.Duration
}

type Session struct {
	deps   Deps
	device string
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	user         *model.User
	pendingEmail string
	creds        auth.Credentials
	page         page.Page
	roster       []model.User
	inbox        []model.Message
	partner      *model.User
	thread       []model.Message

	gen         map[string]uint64
	loginCtx    context.Context
	cancelLogin context.CancelFunc
	unsubscribe func()
	closed      bool
}

func New(device string, deps Deps) *Session {
	if deps.Interval == 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Session{
		deps:     deps,
		device:   device,
		logger:   deps.Logger.With(slog.String("device", device)),
		state:    Loading,
		page:     page.Home,
		gen:      make(map[string]uint64),
		loginCtx: context.Background(),
	}
}

// Device returns the browser this session belongs to.
func (s *Session) Device() string { return s.device }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Credentials returns the provider tokens the session currently holds.
func (s *Session) Credentials() auth.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// Bootstrap establishes the session from scratch:
//
//  1. Ask the auth provider whether creds are a live session.
//  2. If so, resolve the linked user (creating a stub on first sign-in).
//  3. Otherwise fall back to the user ID cached for this device.
//
// Every failure is logged and lands in LoggedOut. Bootstrap never leaves
// the session in Loading.
func (s *Session) Bootstrap(ctx context.Context, creds auth.Credentials) State {
	s.mu.Lock()
	s.endLoginLocked()
	s.state = Loading
	s.user = nil
	s.pendingEmail = ""
	s.creds = creds
	if s.unsubscribe == nil && s.deps.Notifier != nil && !s.closed {
		s.unsubscribe = s.deps.Notifier.Subscribe(s.device, s.onAuthEvent)
	}
	s.mu.Unlock()

	ctx = auth.WithCredentials(ctx, creds)

	ident, err := s.deps.Auth.CurrentIdentity(ctx, creds)
	if err != nil {
		s.logger.Error("bootstrap: reading auth session", slog.String("error", err.Error()))
		s.setLoggedOut()
		return LoggedOut
	}

	if ident != nil {
		if err := s.resolveIdentity(ctx, *ident); err != nil {
			s.logger.Error("bootstrap: resolving external identity",
				slog.String("auth_user_id", ident.ID),
				slog.String("error", err.Error()),
			)
			s.setLoggedOut()
		}
		return s.State()
	}

	s.resumeCached(ctx)
	return s.State()
}

// resumeCached is step 3 of Bootstrap. Only a definite not-found clears the
// cached ID; a transport failure keeps it for the next attempt.
func (s *Session) resumeCached(ctx context.Context) {
	id, ok, err := s.deps.Store.Get(ctx, s.device, localstore.CurrentUserKey)
	if err != nil {
		s.logger.Error("bootstrap: reading cached user", slog.String("error", err.Error()))
		s.setLoggedOut()
		return
	}
	if !ok || id == "" {
		s.setLoggedOut()
		return
	}

	u, err := s.deps.Backend.GetUser(ctx, id)
	switch {
	case err == nil:
		s.loggedIn(ctx, u)
	case apperror.IsNotFound(err):
		s.logger.Info("bootstrap: cached user no longer exists", slog.String("user_id", id))
		if err := s.deps.Store.Delete(ctx, s.device, localstore.CurrentUserKey); err != nil {
			s.logger.Error("bootstrap: clearing cached user", slog.String("error", err.Error()))
		}
		s.setLoggedOut()
	default:
		s.logger.Error("bootstrap: loading cached user",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		s.setLoggedOut()
	}
}

// resolveIdentity looks up the user linked to an external identity and
// moves to LoggedIn or OnboardingPending.
func (s *Session) resolveIdentity(ctx context.Context, ident auth.Identity) error {
	// Providers hand back the address as typed at sign-up.
	email := strings.ToLower(strings.TrimSpace(ident.Email))

	u, err := s.deps.Backend.GetUserByAuthID(ctx, ident.ID)
	if apperror.IsNotFound(err) {
		stub := &model.User{AuthUserID: ident.ID, Email: email}
		if err := s.deps.Backend.CreateUser(ctx, stub); err != nil {
			return err
		}
		s.logger.Info("created user stub for new identity",
			slog.String("user_id", stub.ID),
			slog.String("auth_user_id", ident.ID),
		)
		s.onboarding(stub, email)
		return nil
	}
	if err != nil {
		return err
	}

	if !u.ProfileComplete() {
		s.onboarding(u, email)
		return nil
	}
	s.loggedIn(ctx, u)
	return nil
}

// onAuthEvent runs when the provider reports a change for this device,
// possibly long after Bootstrap settled.
func (s *Session) onAuthEvent(ev auth.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch ev.Type {
	case auth.SignedIn:
		s.mu.Lock()
		s.creds = ev.Credentials
		s.mu.Unlock()

		ctx = auth.WithCredentials(ctx, ev.Credentials)
		ident, err := s.deps.Auth.CurrentIdentity(ctx, ev.Credentials)
		if err != nil || ident == nil {
			if err != nil {
				s.logger.Error("signed-in event: reading auth session", slog.String("error", err.Error()))
			}
			return
		}
		if err := s.resolveIdentity(ctx, *ident); err != nil {
			s.logger.Error("signed-in event: resolving identity",
				slog.String("auth_user_id", ident.ID),
				slog.String("error", err.Error()),
			)
			s.setLoggedOut()
		}
	case auth.SignedOut:
		s.teardown(ctx)
	}
}

// SignOut ends the session with the provider, forgets the cached user ID
// and clears everything derived from the session.
func (s *Session) SignOut(ctx context.Context) {
	creds := s.Credentials()
	if !creds.Empty() {
		if err := s.deps.Auth.SignOut(auth.WithCredentials(ctx, creds), creds); err != nil {
			s.logger.Warn("sign out: provider call failed", slog.String("error", err.Error()))
		}
	}
	s.teardown(ctx)
	s.logger.Info("signed out")
}

func (s *Session) teardown(ctx context.Context) {
	if err := s.deps.Store.Delete(ctx, s.device, localstore.CurrentUserKey); err != nil {
		s.logger.Error("sign out: clearing cached user", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLoginLocked()
	s.state = LoggedOut
	s.user = nil
	s.pendingEmail = ""
	s.creds = auth.Credentials{}
	s.page = page.Home
}

// Close releases the session without signing out: the cached user ID
// survives so the next Bootstrap can resume it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.endLoginLocked()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Session) setLoggedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLoginLocked()
	s.state = LoggedOut
	s.user = nil
	s.pendingEmail = ""
}

func (s *Session) onboarding(u *model.User, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLoginLocked()
	s.state = OnboardingPending
	s.user = u
	s.pendingEmail = email
	s.page = page.Onboarding
}

// loggedIn enters LoggedIn as u, caches u's ID for this device and, when
// this is a new login, starts the refresh loop and loads the roster.
func (s *Session) loggedIn(ctx context.Context, u *model.User) {
	s.mu.Lock()
	fresh := s.state != LoggedIn || s.user == nil || s.user.ID != u.ID
	if fresh {
		s.endLoginLocked()
		s.beginLoginLocked()
		s.page = page.Profile
	}
	s.state = LoggedIn
	s.user = u
	s.pendingEmail = ""
	s.mu.Unlock()

	if err := s.deps.Store.Set(ctx, s.device, localstore.CurrentUserKey, u.ID); err != nil {
		s.logger.Error("caching current user", slog.String("error", err.Error()))
	}

	if fresh {
		s.logger.Info("logged in", slog.String("user_id", u.ID))
		if t, ok := s.issue(keyInbox); ok {
			s.refreshInbox(t)
		}
	}
}

// beginLoginLocked creates the login-scoped context refreshes run under and
// starts the loop. Credentials are not baked into that context: issue
// attaches the current ones to every ticket, so a token refreshed by a
// later SignedIn event is used from the next tick on. A closed session
// never starts a loop.
func (s *Session) beginLoginLocked() {
	if s.closed {
		return
	}
	s.loginCtx, s.cancelLogin = context.WithCancel(context.Background())
	s.deps.Poller.Start(s.pollName(), s.deps.Interval, s.tick)
	s.deps.Metrics.SessionStarted()
}

// endLoginLocked stops the loop, cancels in-flight refreshes and
// invalidates every outstanding refresh ticket.
func (s *Session) endLoginLocked() {
	if s.cancelLogin != nil {
		s.cancelLogin()
		s.cancelLogin = nil
		s.deps.Poller.Stop(s.pollName())
		s.deps.Metrics.SessionEnded()
	}
	for _, key := range []string{keyInbox, keyThread} {
		s.gen[key]++
	}
	s.partner = nil
	s.thread = nil
	s.inbox = nil
	s.roster = nil
}

func (s *Session) pollName() string {
	return "refresh:" + s.device
}

// withCreds attaches the session's credentials to a request context.
func (s *Session) withCreds(ctx context.Context) context.Context {
	return auth.WithCredentials(ctx, s.Credentials())
}

var errNotSignedIn = apperror.Unauthorized("not signed in")

// requireUser returns a copy of the logged-in user.
func (s *Session) requireUser() (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != LoggedIn || s.user == nil {
		return model.User{}, errNotSignedIn
	}
	return *s.user, nil
}

// setUser replaces the mirrored record if the session is still u's.
func (s *Session) setUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil && s.user.ID == u.ID {
		s.user = u
	}
}
