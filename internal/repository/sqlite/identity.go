package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/repository"
)

var _ repository.IdentityRepository = (*DB)(nil)

func scanIdentity(row rowScanner) (*repository.Identity, error) {
	var (
		ident repository.Identity
		sub   sql.NullString
	)
	if err := row.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &sub); err != nil {
		return nil, err
	}
	ident.GoogleSub = sub.String
	return &ident, nil
}

// CreateIdentity inserts a new credential. Emails are stored lower-cased.
// A second identity with the same email is a Conflict.
func (db *DB) CreateIdentity(ctx context.Context, ident *repository.Identity) error {
	ident.Email = strings.ToLower(strings.TrimSpace(ident.Email))
	if ident.Email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	ident.ID = xid.New().String()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, google_sub, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ident.ID, ident.Email, ident.PasswordHash, nullable(ident.GoogleSub), db.now(),
	)
	if err != nil {
		if cerr := constraintError(err, "identity", ident.Email); cerr != nil {
			return cerr
		}
		return fmt.Errorf("sqlite: inserting identity: %w", err)
	}
	return nil
}

func (db *DB) GetIdentityByID(ctx context.Context, id string) (*repository.Identity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, google_sub FROM identities WHERE id = ?`, id)
	ident, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", id)
		}
		return nil, fmt.Errorf("sqlite: getting identity %s: %w", id, err)
	}
	return ident, nil
}

func (db *DB) GetIdentityByEmail(ctx context.Context, email string) (*repository.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, google_sub FROM identities WHERE email = ?`, email)
	ident, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", email)
		}
		return nil, fmt.Errorf("sqlite: getting identity by email: %w", err)
	}
	return ident, nil
}

// UpsertGoogleIdentity resolves a Google subject to an identity:
//  1. known subject → that identity
//  2. known email   → link the subject to it
//  3. otherwise     → new identity without a password
func (db *DB) UpsertGoogleIdentity(ctx context.Context, sub, email string) (*repository.Identity, error) {
	if sub == "" {
		return nil, apperror.ValidationFailed("sub", "google subject is required")
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, google_sub FROM identities WHERE google_sub = ?`, sub)
	ident, err := scanIdentity(row)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: getting identity by google sub: %w", err)
	}

	ident, err = db.GetIdentityByEmail(ctx, email)
	switch {
	case err == nil:
		if _, err := db.conn.ExecContext(ctx,
			`UPDATE identities SET google_sub = ? WHERE id = ?`, sub, ident.ID); err != nil {
			return nil, fmt.Errorf("sqlite: linking google sub: %w", err)
		}
		ident.GoogleSub = sub
		return ident, nil
	case apperror.IsNotFound(err):
		ident = &repository.Identity{Email: email, GoogleSub: sub}
		if err := db.CreateIdentity(ctx, ident); err != nil {
			return nil, err
		}
		return ident, nil
	default:
		return nil, err
	}
}
