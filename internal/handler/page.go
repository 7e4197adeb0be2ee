// Package handler contains the HTTP handlers.
//
// Handlers parse the request, call the device's session, and write the
// response. They hold no business rules: validation and state transitions
// live in the session package, and errors are translated by writeError.
package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageHandler renders the page shell for whichever screen the session
// selects. Templates are parsed once at startup.
type PageHandler struct {
	templates    *template.Template
	sessions     *session.Registry
	oauthEnabled bool
	logger       *slog.Logger
}

func NewPageHandler(sessions *session.Registry, oauthEnabled bool, logger *slog.Logger) (*PageHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/screens.html")
	if err != nil {
		return nil, err
	}
	return &PageHandler{
		templates:    tmpl,
		sessions:     sessions,
		oauthEnabled: oauthEnabled,
		logger:       logger,
	}, nil
}

type pageData struct {
	Title        string
	View         session.View
	OAuthEnabled bool
}

// HandlePage serves GET /. A session still in Loading is bootstrapped
// first, so a plain page load behaves like the app starting up.
func (h *PageHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFor(h.sessions, r)
	if !ok {
		http.Error(w, "missing device", http.StatusBadRequest)
		return
	}
	if s.State() == session.Loading {
		s.Bootstrap(r.Context(), auth.FromRequest(r))
	}

	data := pageData{
		Title:        "Star Hunters",
		View:         s.View(),
		OAuthEnabled: h.oauthEnabled,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "base", data); err != nil {
		// Part of the page may already be written, so no http.Error here.
		h.logger.Error("failed to render page", slog.String("error", err.Error()))
	}
}

// sessionFor returns the session of the request's device.
func sessionFor(sessions *session.Registry, r *http.Request) (*session.Session, bool) {
	device, ok := auth.DeviceIDFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return sessions.Get(device), true
}
