// Package repository declares the backend access contract.
//
// Every method is one request to the backend. Implementations hold no
// session state and never retry. A lookup that finds nothing returns an
// error matching apperror.ErrNotFound.
package repository

import (
	"context"

	"github.com/sakif/starhunters/internal/model"
)

type UserRepository interface {
	// ListUsers returns every user ordered by stars, highest first.
	ListUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByAuthID(ctx context.Context, authID string) (*model.User, error)
	// CreateUser inserts u and fills in ID, Level and CreatedAt.
	CreateUser(ctx context.Context, u *model.User) error
	// UpdateUser applies patch and returns the resulting record.
	UpdateUser(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)
}

type MessageRepository interface {
	// GetConversation returns all messages between a and b, oldest first.
	// Argument order does not matter.
	GetConversation(ctx context.Context, a, b string) ([]model.Message, error)
	SendMessage(ctx context.Context, sender, recipient, content string) (*model.Message, error)
}

// Backend is the full data surface the session core talks to.
type Backend interface {
	UserRepository
	MessageRepository
}

// Identity is a password or Google credential held by the embedded auth
// provider. Only the sqlite backend stores these.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	GoogleSub    string
}

type IdentityRepository interface {
	CreateIdentity(ctx context.Context, ident *Identity) error
	GetIdentityByID(ctx context.Context, id string) (*Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)
	// UpsertGoogleIdentity links a Google subject to an identity, creating
	// one if neither the subject nor the email is known yet.
	UpsertGoogleIdentity(ctx context.Context, sub, email string) (*Identity, error)
}
