package session

import (
	"slices"

	"github.com/sakif/starhunters/internal/leveling"
	"github.com/sakif/starhunters/internal/model"
	"github.com/sakif/starhunters/internal/page"
)

// View is a snapshot of everything the screens render. Slices are copies.
type View struct {
	State        State              `json:"state"`
	Screen       page.Page          `json:"screen"`
	User         *model.User        `json:"user,omitempty"`
	PendingEmail string             `json:"pending_email,omitempty"`
	Progress     *leveling.Progress `json:"progress,omitempty"`
	Users        []model.User       `json:"users"`
	MapUsers     []model.User       `json:"map_users"`
	Inbox        []model.Message    `json:"inbox"`
	Partner      *model.User        `json:"partner,omitempty"`
	Thread       []model.Message    `json:"thread"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		State:        s.state,
		Screen:       s.screenLocked(),
		PendingEmail: s.pendingEmail,
		Users:        []model.User{},
		MapUsers:     []model.User{},
		Inbox:        slices.Clone(s.inbox),
		Thread:       slices.Clone(s.thread),
	}
	if v.Inbox == nil {
		v.Inbox = []model.Message{}
	}
	if v.Thread == nil {
		v.Thread = []model.Message{}
	}
	if s.user != nil {
		u := *s.user
		v.User = &u
		p := leveling.ProgressFor(u.Stars)
		v.Progress = &p
	}
	if s.partner != nil {
		p := *s.partner
		v.Partner = &p
	}

	for _, u := range s.roster {
		if s.user != nil && u.ID == s.user.ID {
			continue
		}
		v.Users = append(v.Users, u)
		if u.VisibleOnMap {
			v.MapUsers = append(v.MapUsers, u)
		}
	}
	return v
}

func (s *Session) screenLocked() page.Page {
	return page.Select(s.state == LoggedIn, s.page, s.state == OnboardingPending)
}
