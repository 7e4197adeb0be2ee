package session

import (
	"context"
	"log/slog"

	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/model"
)

// Query keys for refresh tickets.
const (
	keyInbox  = "inbox"
	keyThread = "thread"
)

// ticket is issued before a refresh goes out and checked when it returns.
// A result is applied only if its ticket is still the latest for its key
// and the session is still logged in as the same user. Later-issued
// requests always win, whatever order the responses arrive in.
//
// WHY TICKETS?
//
// Three things fetch the same data: the poll tick, an action reloading
// after a write, and a page view asking for fresh data. They overlap:
//
//	tick:   issue(thread)=1 ----------------------------> apply? 1 != 2, drop
//	send:        issue(thread)=2 --------> apply, gen 2 wins
//
// A mutex around the fetch would serialize the network calls. A ticket
// only serializes the bookkeeping: the fetch runs unlocked and the answer
// is checked against the generation counter when it lands. Logging out
// cancels ctx and bumps every counter, so nothing from that login lands.
type ticket struct {
	ctx       context.Context
	key       string
	gen       uint64
	userID    string
	partnerID string
}

// issue hands out the next ticket for key. It fails when nobody is logged in.
func (s *Session) issue(key string) (ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != LoggedIn || s.user == nil {
		return ticket{}, false
	}
	s.gen[key]++
	t := ticket{
		ctx:    auth.WithCredentials(s.loginCtx, s.creds),
		key:    key,
		gen:    s.gen[key],
		userID: s.user.ID,
	}
	if s.partner != nil {
		t.partnerID = s.partner.ID
	}
	return t, true
}

// currentLocked reports whether t may still be applied. Callers hold mu.
func (s *Session) currentLocked(t ticket) bool {
	return s.gen[t.key] == t.gen &&
		s.state == LoggedIn &&
		s.user != nil && s.user.ID == t.userID
}

func (s *Session) stale(t ticket) {
	s.deps.Metrics.RefreshStale(t.key)
	s.logger.Debug("discarding stale refresh", slog.String("key", t.key), slog.Uint64("gen", t.gen))
}

// tick is one beat of the refresh loop. Both refreshes are fire-and-forget;
// tickets make sure an overtaken response is ignored.
func (s *Session) tick() {
	s.deps.Metrics.PollTick()
	if t, ok := s.issue(keyInbox); ok {
		go s.refreshInbox(t)
	}
	if t, ok := s.issue(keyThread); ok && t.partnerID != "" {
		go s.refreshThread(t)
	}
}

// refreshInbox re-reads the roster and every conversation the current
// user has with anyone on it, flattened into one list.
func (s *Session) refreshInbox(t ticket) {
	users, err := s.deps.Backend.ListUsers(t.ctx)
	if err != nil {
		if t.ctx.Err() == nil {
			s.logger.Error("refresh: listing users", slog.String("error", err.Error()))
		}
		return
	}

	var inbox []model.Message
	for _, other := range users {
		if other.ID == t.userID {
			continue
		}
		msgs, err := s.deps.Backend.GetConversation(t.ctx, t.userID, other.ID)
		if err != nil {
			if t.ctx.Err() == nil {
				s.logger.Error("refresh: loading conversation",
					slog.String("with", other.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		inbox = append(inbox, msgs...)
	}

	s.applyInbox(t, users, inbox)
}

func (s *Session) applyInbox(t ticket, users []model.User, inbox []model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(t) {
		s.stale(t)
		return false
	}
	s.roster = users
	s.inbox = inbox
	return true
}

// refreshThread re-reads the open conversation.
func (s *Session) refreshThread(t ticket) {
	msgs, err := s.deps.Backend.GetConversation(t.ctx, t.userID, t.partnerID)
	if err != nil {
		if t.ctx.Err() == nil {
			s.logger.Error("refresh: loading open conversation",
				slog.String("with", t.partnerID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	s.applyThread(t, msgs)
}

func (s *Session) applyThread(t ticket, msgs []model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(t) || s.partner == nil || s.partner.ID != t.partnerID {
		s.stale(t)
		return false
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	s.thread = msgs
	return true
}
