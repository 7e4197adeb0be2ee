package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/localstore"
	"github.com/sakif/starhunters/internal/model"
	"github.com/sakif/starhunters/internal/repository"
)

// fakeBackend is an in-memory repository.Backend. Set failures to make an
// operation return an error.
type fakeBackend struct {
	mu       sync.Mutex
	users    map[string]*model.User
	order    []string
	messages []model.Message
	nextID   int
	clock    time.Time
	failures map[string]error
	calls    map[string]int
	gates    map[string]*gate
	creds    map[string]auth.Credentials // last credentials seen, by op
}

// gate parks the next call to an operation until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

var _ repository.Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:    make(map[string]*model.User),
		clock:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		gates:    make(map[string]*gate),
		creds:    make(map[string]auth.Credentials),
	}
}

// hold makes the next call to op block until release is called. The
// returned channel is closed once that call is parked. Later calls pass.
func (f *fakeBackend) hold(op string) (entered <-chan struct{}, release func()) {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.gates[op] = g
	f.mu.Unlock()
	return g.entered, func() { close(g.release) }
}

// wait parks on a gate registered for op, if any. Callers must not hold mu.
func (f *fakeBackend) wait(op string) {
	f.mu.Lock()
	g := f.gates[op]
	delete(f.gates, op)
	f.mu.Unlock()
	if g != nil {
		close(g.entered)
		<-g.release
	}
}

func (f *fakeBackend) credsSeen(op string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[op].AccessToken
}

func (f *fakeBackend) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter records a call and returns the injected failure, if any. Callers hold mu.
func (f *fakeBackend) enter(op string) error {
	f.calls[op]++
	return f.failures[op]
}

func (f *fakeBackend) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeBackend) add(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := model.PrepareNew(&u); err != nil {
		panic(err)
	}
	if u.ID == "" {
		f.nextID++
		u.ID = fmt.Sprintf("user-%d", f.nextID)
	}
	u.CreatedAt = f.tick()
	f.users[u.ID] = &u
	f.order = append(f.order, u.ID)
	cp := u
	return &cp
}

func (f *fakeBackend) ListUsers(ctx context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds["ListUsers"], _ = auth.CredentialsFrom(ctx)
	if err := f.enter("ListUsers"); err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(f.order))
	for _, id := range f.order {
		users = append(users, *f.users[id])
	}
	slices.SortStableFunc(users, func(a, b model.User) int { return b.Stars - a.Stars })
	return users, nil
}

func (f *fakeBackend) GetUser(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetUser"); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeBackend) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetUserByEmail"); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeBackend) GetUserByAuthID(_ context.Context, authID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetUserByAuthID"); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u.AuthUserID == authID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", authID)
}

func (f *fakeBackend) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	err := f.enter("CreateUser")
	f.mu.Unlock()
	if err != nil {
		return err
	}
	created := f.add(*u)
	*u = *created
	return nil
}

func (f *fakeBackend) UpdateUser(_ context.Context, id string, patch model.UserPatch) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateUser"); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	patch.Apply(u)
	cp := *u
	return &cp, nil
}

func (f *fakeBackend) GetConversation(_ context.Context, a, b string) ([]model.Message, error) {
	f.wait("GetConversation")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetConversation"); err != nil {
		return nil, err
	}
	var out []model.Message
	for _, m := range f.messages {
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, sender, recipient, content string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SendMessage"); err != nil {
		return nil, err
	}
	if err := model.ValidateMessage(sender, recipient, content); err != nil {
		return nil, err
	}
	f.nextID++
	m := model.Message{
		ID:          fmt.Sprintf("msg-%d", f.nextID),
		SenderID:    sender,
		RecipientID: recipient,
		Content:     content,
		CreatedAt:   f.tick(),
	}
	f.messages = append(f.messages, m)
	return &m, nil
}

// fakeAuth accepts "token-<identity id>" access tokens.
type fakeAuth struct {
	mu         sync.Mutex
	identities map[string]auth.Identity // by id
	passwords  map[string]string        // email → password
	currentErr error
	signUpErr  error
	signedOut  int
	nextID     int
}

var _ auth.Provider = (*fakeAuth)(nil)

func newFakeAuth() *fakeAuth {
	return &fakeAuth{identities: make(map[string]auth.Identity), passwords: make(map[string]string)}
}

func (a *fakeAuth) addIdentity(id, email, password string) auth.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identities[id] = auth.Identity{ID: id, Email: email}
	a.passwords[email] = password
	return auth.Credentials{AccessToken: "token-" + id}
}

// rotate issues a second access token for an existing identity, the way a
// provider does when it refreshes a session.
func (a *fakeAuth) rotate(id, token string) auth.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identities[token] = a.identities[id]
	return auth.Credentials{AccessToken: "token-" + token}
}

func (a *fakeAuth) CurrentIdentity(_ context.Context, creds auth.Credentials) (*auth.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentErr != nil {
		return nil, a.currentErr
	}
	ident, ok := a.identities[strings.TrimPrefix(creds.AccessToken, "token-")]
	if !ok || creds.Empty() {
		return nil, nil
	}
	return &ident, nil
}

func (a *fakeAuth) OAuthEnabled() bool { return false }
func (a *fakeAuth) AuthCodeURL(state, _ string) string { return "https://auth.example/?state=" + state }

func (a *fakeAuth) ExchangeCode(context.Context, string, string) (*auth.Session, error) {
	return nil, apperror.Forbidden("not enabled")
}

func (a *fakeAuth) SignUp(_ context.Context, email, password string) (*auth.Session, error) {
	if a.signUpErr != nil {
		return nil, a.signUpErr
	}
	a.mu.Lock()
	a.nextID++
	id := fmt.Sprintf("auth-%d", a.nextID)
	a.mu.Unlock()
	creds := a.addIdentity(id, email, password)
	return &auth.Session{Credentials: creds, Identity: auth.Identity{ID: id, Email: email}}, nil
}

func (a *fakeAuth) SignIn(_ context.Context, email, password string) (*auth.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.passwords[email] != password {
		return nil, apperror.Unauthorized("invalid email or password")
	}
	for _, ident := range a.identities {
		if ident.Email == email {
			return &auth.Session{Credentials: auth.Credentials{AccessToken: "token-" + ident.ID}, Identity: ident}, nil
		}
	}
	return nil, apperror.Unauthorized("invalid email or password")
}

func (a *fakeAuth) SignOut(context.Context, auth.Credentials) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signedOut++
	return nil
}

// fakePoller records scheduled jobs instead of running them. Tests call
// fire to run a tick.
type fakePoller struct {
	mu   sync.Mutex
	jobs map[string]func()
}

func newFakePoller() *fakePoller { return &fakePoller{jobs: make(map[string]func())} }

func (p *fakePoller) Start(name string, _ time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[name] = fn
}

func (p *fakePoller) Stop(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.jobs, name)
}

func (p *fakePoller) running(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[name]
	return ok
}

type fakePhotos struct {
	key  string
	body string
}

func (p *fakePhotos) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	p.key, p.body = key, string(b)
	return "https://cdn.example/" + key, nil
}

type harness struct {
	backend  *fakeBackend
	auth     *fakeAuth
	store    *localstore.Memory
	poller   *fakePoller
	notifier *auth.Notifier
	photos   *fakePhotos
	deps     Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(),
		auth:     newFakeAuth(),
		store:    localstore.NewMemory(),
		poller:   newFakePoller(),
		notifier: auth.NewNotifier(),
		photos:   &fakePhotos{},
	}
	h.deps = Deps{
		Backend:  h.backend,
		Auth:     h.auth,
		Store:    h.store,
		Photos:   h.photos,
		Poller:   h.poller,
		Notifier: h.notifier,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h
}

func (h *harness) session(t *testing.T, device string) *Session {
	t.Helper()
	s := New(device, h.deps)
	t.Cleanup(s.Close)
	return s
}

func (h *harness) cached(t *testing.T, device string) (string, bool) {
	t.Helper()
	v, ok, err := h.store.Get(context.Background(), device, localstore.CurrentUserKey)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	return v, ok
}

func completeUser(name string, stars int) model.User {
	return model.User{Name: name, Age: 25, Gender: "mujer", Email: strings.ToLower(name) + "@example.com", Stars: stars, VisibleOnMap: true}
}
