package handler

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/model"
	"github.com/sakif/starhunters/internal/page"
	"github.com/sakif/starhunters/internal/photo"
	"github.com/sakif/starhunters/internal/session"
)

// SessionHandler exposes the device's session as a JSON API. Most
// endpoints answer with the updated session.View so the browser can
// re-render from one payload.
type SessionHandler struct {
	sessions *session.Registry
	cookies  auth.Cookies
	logger   *slog.Logger
}

func NewSessionHandler(sessions *session.Registry, cookies auth.Cookies, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, cookies: cookies, logger: logger}
}

// session returns the request's session, bootstrapping it on first use.
func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := sessionFor(h.sessions, r)
	if !ok {
		writeError(w, apperror.ValidationFailed("device", "missing device cookie"))
		return nil, false
	}
	if s.State() == session.Loading {
		s.Bootstrap(r.Context(), auth.FromRequest(r))
	}
	return s, true
}

// HandleGet returns the current view.
//
// HTTP: GET /api/session
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// HandleBootstrap re-runs session bootstrap with the request's cookies,
// as a page reload would.
//
// HTTP: POST /api/session/bootstrap
func (h *SessionHandler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFor(h.sessions, r)
	if !ok {
		writeError(w, apperror.ValidationFailed("device", "missing device cookie"))
		return
	}
	s.Bootstrap(r.Context(), auth.FromRequest(r))
	writeJSON(w, http.StatusOK, s.View())
}

type navigateRequest struct {
	Page page.Page `json:"page"`
}

// HandleNavigate picks the requested screen.
//
// HTTP: POST /api/session/page {"page": "chat"}
func (h *SessionHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.Navigate(req.Page); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// HandleRegister signs a new user up.
//
// HTTP: POST /api/register
func (h *SessionHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var form session.RegisterForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, err)
		return
	}
	creds, err := s.Register(r.Context(), form)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cookies.SetCredentials(w, creds)
	writeJSON(w, http.StatusCreated, s.View())
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /api/login
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	creds, err := s.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cookies.SetCredentials(w, creds)
	writeJSON(w, http.StatusOK, s.View())
}

// HandleOnboarding completes a profile started by Google sign-in.
//
// HTTP: POST /api/onboarding
func (h *SessionHandler) HandleOnboarding(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var form session.OnboardingForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.CompleteOnboarding(r.Context(), form); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// HandleAddStar awards the current user one star.
//
// HTTP: POST /api/stars
func (h *SessionHandler) HandleAddStar(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := s.AddStar(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// HandleUpdateProfile edits the bio and map visibility.
//
// HTTP: PATCH /api/profile
func (h *SessionHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var upd session.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.UpdateProfile(r.Context(), upd); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// multipartSlack covers the multipart framing around the file itself.
const multipartSlack = 64 << 10

// HandleUploadPhoto accepts a multipart "photo" field.
//
// HTTP: POST /api/profile/photo
func (h *SessionHandler) HandleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, photo.MaxSize+multipartSlack)
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, apperror.ValidationFailed("photo", "a photo file of at most 5MB is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	var body io.Reader = file
	if contentType == "" || contentType == "application/octet-stream" {
		// Sniff from the first 512 bytes and put them back in front.
		head := make([]byte, 512)
		n, _ := io.ReadFull(file, head)
		contentType = http.DetectContentType(head[:n])
		body = io.MultiReader(bytes.NewReader(head[:n]), file)
	}

	if _, err := s.UploadPhoto(r.Context(), header.Filename, body, header.Size, contentType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

type usersResponse struct {
	Users []model.User `json:"users"`
}

// HandleUsers lists everyone but the current user, most stars first.
//
// HTTP: GET /api/users
func (h *SessionHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	v := s.View()
	if v.State != session.LoggedIn {
		writeError(w, apperror.Unauthorized("not signed in"))
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: v.Users})
}

// HandleMap lists the users who chose to appear on the map.
//
// HTTP: GET /api/map
func (h *SessionHandler) HandleMap(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	v := s.View()
	if v.State != session.LoggedIn {
		writeError(w, apperror.Unauthorized("not signed in"))
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: v.MapUsers})
}

// HandleSelectPartner opens the conversation with a user.
//
// HTTP: POST /api/conversation/{userID}
func (h *SessionHandler) HandleSelectPartner(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.SelectPartner(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// HandleClearPartner closes the open conversation.
//
// HTTP: DELETE /api/conversation
func (h *SessionHandler) HandleClearPartner(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.ClearPartner()
	writeJSON(w, http.StatusOK, s.View())
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// HandleSendMessage sends a message to the open partner.
//
// HTTP: POST /api/messages
func (h *SessionHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.SendMessage(r.Context(), req.Content); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}
