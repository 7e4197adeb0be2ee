package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/model"
	"github.com/sakif/starhunters/internal/page"
	"github.com/sakif/starhunters/internal/photo"
)

// Register signs a new account up with the auth provider, creates its
// complete user record and logs it in. The returned credentials may be
// empty when the provider wants the email confirmed first.
func (s *Session) Register(ctx context.Context, form RegisterForm) (auth.Credentials, error) {
	if err := form.Validate(); err != nil {
		return auth.Credentials{}, err
	}

	_, err := s.deps.Backend.GetUserByEmail(ctx, form.Email)
	switch {
	case err == nil:
		return auth.Credentials{}, apperror.Conflict("user", form.Email)
	case !apperror.IsNotFound(err):
		s.logger.Error("register: checking email", slog.String("error", err.Error()))
		return auth.Credentials{}, fmt.Errorf("checking email: %w", err)
	}

	sess, err := s.deps.Auth.SignUp(ctx, form.Email, form.Password)
	if err != nil {
		s.logger.Error("register: signing up", slog.String("error", err.Error()))
		return auth.Credentials{}, fmt.Errorf("signing up: %w", err)
	}

	s.mu.Lock()
	s.creds = sess.Credentials
	s.mu.Unlock()
	ctx = auth.WithCredentials(ctx, sess.Credentials)

	u := &model.User{
		AuthUserID:  sess.Identity.ID,
		Name:        form.Name,
		Age:         form.Age,
		Gender:      form.Gender,
		Email:       form.Email,
		Orientation: form.Orientation,
	}
	if err := s.deps.Backend.CreateUser(ctx, u); err != nil {
		s.logger.Error("register: creating user", slog.String("error", err.Error()))
		return auth.Credentials{}, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered", slog.String("user_id", u.ID))
	s.loggedIn(ctx, u)
	return sess.Credentials, nil
}

// SignIn authenticates with email and password, then resolves the linked
// user the same way Bootstrap does.
func (s *Session) SignIn(ctx context.Context, email, password string) (auth.Credentials, error) {
	sess, err := s.deps.Auth.SignIn(ctx, email, password)
	if err != nil {
		return auth.Credentials{}, err
	}

	s.mu.Lock()
	s.creds = sess.Credentials
	s.mu.Unlock()
	ctx = auth.WithCredentials(ctx, sess.Credentials)

	if err := s.resolveIdentity(ctx, sess.Identity); err != nil {
		s.logger.Error("sign in: resolving identity",
			slog.String("auth_user_id", sess.Identity.ID),
			slog.String("error", err.Error()),
		)
		s.setLoggedOut()
		return auth.Credentials{}, fmt.Errorf("loading user: %w", err)
	}
	return sess.Credentials, nil
}

// CompleteOnboarding fills in the required profile fields of the pending
// stub and logs it in.
func (s *Session) CompleteOnboarding(ctx context.Context, form OnboardingForm) (*model.User, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != OnboardingPending || s.user == nil {
		s.mu.Unlock()
		return nil, apperror.Forbidden("onboarding is not pending")
	}
	id := s.user.ID
	s.mu.Unlock()

	u, err := s.deps.Backend.UpdateUser(s.withCreds(ctx), id, form.patch())
	if err != nil {
		s.logger.Error("onboarding: updating user", slog.String("error", err.Error()))
		return nil, fmt.Errorf("completing profile: %w", err)
	}

	s.loggedIn(ctx, u)
	return u, nil
}

// AddStar awards one star. The current count is re-read first so the
// increment is applied to the stored value, and stars and level are written
// in one update.
func (s *Session) AddStar(ctx context.Context) (*model.User, error) {
	me, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	ctx = s.withCreds(ctx)

	fresh, err := s.deps.Backend.GetUser(ctx, me.ID)
	if err != nil {
		s.logger.Error("add star: reading user", slog.String("error", err.Error()))
		return nil, fmt.Errorf("reading stars: %w", err)
	}

	u, err := s.deps.Backend.UpdateUser(ctx, me.ID, model.UserPatch{Stars: model.Ptr(fresh.Stars + 1)})
	if err != nil {
		s.logger.Error("add star: updating user", slog.String("error", err.Error()))
		return nil, fmt.Errorf("adding star: %w", err)
	}

	if u.Level != fresh.Level {
		s.logger.Info("level up", slog.String("user_id", u.ID), slog.String("level", string(u.Level)))
	}
	s.setUser(u)
	return u, nil
}

// ProfileUpdate is the editable part of the profile screen.
type ProfileUpdate struct {
	Bio          *string `json:"bio"`
	VisibleOnMap *bool   `json:"visible_on_map"`
}

func (s *Session) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*model.User, error) {
	me, err := s.requireUser()
	if err != nil {
		return nil, err
	}

	patch := model.UserPatch{Bio: upd.Bio, VisibleOnMap: upd.VisibleOnMap}
	if patch.Empty() {
		return &me, nil
	}

	u, err := s.deps.Backend.UpdateUser(s.withCreds(ctx), me.ID, patch)
	if err != nil {
		s.logger.Error("update profile", slog.String("error", err.Error()))
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	s.setUser(u)
	return u, nil
}

// UploadPhoto stores a new profile photo and points the user record at it.
func (s *Session) UploadPhoto(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (*model.User, error) {
	me, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	if s.deps.Photos == nil {
		return nil, apperror.Forbidden("photo uploads are not configured")
	}
	if err := photo.Validate(size, contentType); err != nil {
		return nil, err
	}
	ctx = s.withCreds(ctx)

	url, err := s.deps.Photos.Put(ctx, photo.Key(me.ID, filename, contentType), r, size, contentType)
	if err != nil {
		s.logger.Error("upload photo: storing object", slog.String("error", err.Error()))
		return nil, fmt.Errorf("uploading photo: %w", err)
	}

	u, err := s.deps.Backend.UpdateUser(ctx, me.ID, model.UserPatch{ProfilePhotoURL: model.Ptr(url)})
	if err != nil {
		s.logger.Error("upload photo: updating user", slog.String("error", err.Error()))
		return nil, fmt.Errorf("saving photo: %w", err)
	}
	s.setUser(u)
	return u, nil
}

// SelectPartner opens the conversation with userID. If the conversation
// cannot be loaded the thread is shown empty.
func (s *Session) SelectPartner(ctx context.Context, userID string) error {
	me, err := s.requireUser()
	if err != nil {
		return err
	}
	if userID == me.ID {
		return apperror.ValidationFailed("user_id", "cannot open a conversation with yourself")
	}
	ctx = s.withCreds(ctx)

	partner, err := s.deps.Backend.GetUser(ctx, userID)
	if err != nil {
		if !apperror.IsNotFound(err) {
			s.logger.Error("select partner", slog.String("user_id", userID), slog.String("error", err.Error()))
		}
		return fmt.Errorf("loading user: %w", err)
	}

	s.mu.Lock()
	if s.state != LoggedIn || s.user == nil || s.user.ID != me.ID {
		s.mu.Unlock()
		return errNotSignedIn
	}
	s.partner = partner
	s.thread = []model.Message{}
	s.page = page.Chat
	s.mu.Unlock()

	s.loadThread(ctx)
	return nil
}

// ClearPartner closes the open conversation. Any thread refresh still in
// flight is discarded when it returns.
func (s *Session) ClearPartner() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partner = nil
	s.thread = nil
	s.gen[keyThread]++
}

// SendMessage inserts a message to the open partner and re-reads the
// conversation.
func (s *Session) SendMessage(ctx context.Context, content string) (*model.Message, error) {
	me, err := s.requireUser()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	var partnerID string
	if s.partner != nil {
		partnerID = s.partner.ID
	}
	s.mu.Unlock()

	if err := model.ValidateMessage(me.ID, partnerID, content); err != nil {
		return nil, err
	}
	ctx = s.withCreds(ctx)

	msg, err := s.deps.Backend.SendMessage(ctx, me.ID, partnerID, content)
	if err != nil {
		s.logger.Error("send message", slog.String("to", partnerID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("sending message: %w", err)
	}

	if s.loadThread(ctx) == threadFailed {
		// Keep the sent message visible until the next refresh. A newer
		// thread may already hold it, so never add it twice.
		s.mu.Lock()
		if s.partner != nil && s.partner.ID == partnerID &&
			s.user != nil && s.user.ID == me.ID &&
			!slices.ContainsFunc(s.thread, func(m model.Message) bool { return m.ID == msg.ID }) {
			s.thread = append(s.thread, *msg)
		}
		s.mu.Unlock()
	}
	return msg, nil
}

// threadOutcome is what became of a thread load.
type threadOutcome int

const (
	threadApplied threadOutcome = iota
	threadStale                 // overtaken by a later ticket, or nothing to load
	threadFailed                // the backend call failed
)

// loadThread fetches the open conversation under a thread ticket, so it
// takes part in the same latest-issued-wins ordering as the refresh loop.
func (s *Session) loadThread(ctx context.Context) threadOutcome {
	t, ok := s.issue(keyThread)
	if !ok || t.partnerID == "" {
		return threadStale
	}
	msgs, err := s.deps.Backend.GetConversation(ctx, t.userID, t.partnerID)
	if err != nil {
		s.logger.Error("loading conversation", slog.String("with", t.partnerID), slog.String("error", err.Error()))
		return threadFailed
	}
	if !s.applyThread(t, msgs) {
		return threadStale
	}
	return threadApplied
}

// Navigate records the page the browser asked for and returns the screen
// that will actually be shown.
func (s *Session) Navigate(p page.Page) (page.Page, error) {
	if !p.Valid() {
		return "", apperror.ValidationFailed("page", fmt.Sprintf("unknown page %q", p))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = p
	return s.screenLocked(), nil
}
