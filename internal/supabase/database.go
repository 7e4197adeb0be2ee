package supabase

import (
	"context"
	"fmt"
	"strings"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/model"
	"github.com/sakif/starhunters/internal/repository"
)

const (
	usersTable    = "users"
	messagesTable = "messages"
)

var _ repository.Backend = (*DB)(nil)

// DB implements repository.Backend over PostgREST.
type DB struct {
	client *Client
}

// Database returns the table API of c.
func (c *Client) Database() *DB {
	return &DB{client: c}
}

func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	users := make([]model.User, 0)
	err := db.client.From(usersTable).
		Select("*").
		Order("stars", false).
		Execute(ctx, &users)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	return db.getUserBy(ctx, "id", id)
}

// GetUserByEmail matches case-insensitively, like the sqlite backend.
// PostgREST has no lower() in filters, so this is an ilike with every
// wildcard escaped.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.TrimSpace(email)
	var users []model.User
	err := db.client.From(usersTable).
		Select("*").
		ILike("email", escapeLike(email)).
		Limit(1).
		Execute(ctx, &users)
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	if len(users) == 0 {
		return nil, apperror.NotFound("user", email)
	}
	return &users[0], nil
}

// likeEscaper escapes LIKE wildcards. PostgREST also reads * as %.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `\*`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (db *DB) GetUserByAuthID(ctx context.Context, authID string) (*model.User, error) {
	if authID == "" {
		return nil, apperror.NotFound("user", "(empty auth id)")
	}
	return db.getUserBy(ctx, "auth_user_id", authID)
}

// getUserBy fetches at most one row. An empty result is NotFound rather than
// a PGRST116 error, so absence never looks like a failure.
func (db *DB) getUserBy(ctx context.Context, column, value string) (*model.User, error) {
	var users []model.User
	err := db.client.From(usersTable).
		Select("*").
		Eq(column, value).
		Limit(1).
		Execute(ctx, &users)
	if err != nil {
		return nil, fmt.Errorf("getting user by %s: %w", column, err)
	}
	if len(users) == 0 {
		return nil, apperror.NotFound("user", value)
	}
	return &users[0], nil
}

// CreateUser inserts u with the derived level. The backend assigns id and created_at.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	if err := model.PrepareNew(u); err != nil {
		return err
	}

	row := map[string]any{
		"stars":          u.Stars,
		"level":          string(u.Level),
		"visible_on_map": u.VisibleOnMap,
	}
	for k, v := range map[string]string{
		"auth_user_id":      u.AuthUserID,
		"name":              u.Name,
		"gender":            u.Gender,
		"email":             u.Email,
		"orientation":       u.Orientation,
		"profile_photo_url": u.ProfilePhotoURL,
		"bio":               u.Bio,
	} {
		if v != "" {
			row[k] = v
		}
	}
	if u.Age != 0 {
		row["age"] = u.Age
	}

	var created []model.User
	if err := db.client.From(usersTable).ExecuteInsert(ctx, row, &created); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	if len(created) == 0 {
		return fmt.Errorf("creating user: empty representation")
	}

	*u = created[0]
	return nil
}

func (db *DB) UpdateUser(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return db.GetUser(ctx, id)
	}

	var updated []model.User
	err := db.client.From(usersTable).
		Eq("id", id).
		ExecuteUpdate(ctx, patch.Fields(), &updated)
	if err != nil {
		return nil, fmt.Errorf("updating user %s: %w", id, err)
	}
	if len(updated) == 0 {
		return nil, apperror.NotFound("user", id)
	}
	return &updated[0], nil
}

func (db *DB) GetConversation(ctx context.Context, a, b string) ([]model.Message, error) {
	msgs := make([]model.Message, 0)
	err := db.client.From(messagesTable).
		Select("*").
		Or(
			fmt.Sprintf("and(sender_id.eq.%s,recipient_id.eq.%s)", a, b),
			fmt.Sprintf("and(sender_id.eq.%s,recipient_id.eq.%s)", b, a),
		).
		Order("created_at", true).
		Execute(ctx, &msgs)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return msgs, nil
}

func (db *DB) SendMessage(ctx context.Context, sender, recipient, content string) (*model.Message, error) {
	if err := model.ValidateMessage(sender, recipient, content); err != nil {
		return nil, err
	}

	row := map[string]any{
		"sender_id":    sender,
		"recipient_id": recipient,
		"content":      content,
		"read":         false,
	}

	var created []model.Message
	if err := db.client.From(messagesTable).ExecuteInsert(ctx, row, &created); err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("sending message: empty representation")
	}
	return &created[0], nil
}
