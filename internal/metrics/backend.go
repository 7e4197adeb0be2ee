package metrics

import (
	"context"
	"errors"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/model"
	"github.com/sakif/starhunters/internal/repository"
)

// Backend counts every call made through the wrapped repository.Backend.
type Backend struct {
	next repository.Backend
	m    *Metrics
}

var _ repository.Backend = (*Backend)(nil)

func InstrumentBackend(next repository.Backend, m *Metrics) *Backend {
	return &Backend{next: next, m: m}
}

func (b *Backend) observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	b.m.ObserveBackend(op, outcome)
}

func (b *Backend) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := b.next.ListUsers(ctx)
	b.observe("list_users", err)
	return users, err
}

func (b *Backend) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := b.next.GetUser(ctx, id)
	b.observe("get_user", err)
	return u, err
}

func (b *Backend) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := b.next.GetUserByEmail(ctx, email)
	b.observe("get_user_by_email", err)
	return u, err
}

func (b *Backend) GetUserByAuthID(ctx context.Context, authID string) (*model.User, error) {
	u, err := b.next.GetUserByAuthID(ctx, authID)
	b.observe("get_user_by_auth_id", err)
	return u, err
}

func (b *Backend) CreateUser(ctx context.Context, u *model.User) error {
	err := b.next.CreateUser(ctx, u)
	b.observe("create_user", err)
	return err
}

func (b *Backend) UpdateUser(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	u, err := b.next.UpdateUser(ctx, id, patch)
	b.observe("update_user", err)
	return u, err
}

func (b *Backend) GetConversation(ctx context.Context, a, c string) ([]model.Message, error) {
	msgs, err := b.next.GetConversation(ctx, a, c)
	b.observe("get_conversation", err)
	return msgs, err
}

func (b *Backend) SendMessage(ctx context.Context, sender, recipient, content string) (*model.Message, error) {
	msg, err := b.next.SendMessage(ctx, sender, recipient, content)
	b.observe("send_message", err)
	return msg, err
}
