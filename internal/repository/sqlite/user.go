package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/leveling"
	"github.com/sakif/starhunters/internal/model"
	"github.com/sakif/starhunters/internal/repository"
)

// compile-time check that *DB implements the backend contract
var _ repository.Backend = (*DB)(nil)

const userColumns = `id, auth_user_id, name, age, gender, email, orientation,
	stars, level, profile_photo_url, bio, visible_on_map, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u      model.User
		authID sql.NullString
		level  string
	)
	err := row.Scan(
		&u.ID, &authID, &u.Name, &u.Age, &u.Gender, &u.Email, &u.Orientation,
		&u.Stars, &level, &u.ProfilePhotoURL, &u.Bio, &u.VisibleOnMap, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.AuthUserID = authID.String
	u.Level = leveling.Level(level)
	return &u, nil
}

// ListUsers returns every user, highest star count first.
// Ties keep registration order so the roster does not reshuffle between polls.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY stars DESC, created_at ASC, rowid ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return users, nil
}

// GetUser retrieves a user by ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	return db.getUserBy(ctx, "id", id)
}

// GetUserByEmail matches case-insensitively on the trimmed address.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.TrimSpace(email)
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email <> '' AND lower(email) = lower(?)
		 ORDER BY created_at ASC LIMIT 1`,
		email,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

func (db *DB) GetUserByAuthID(ctx context.Context, authID string) (*model.User, error) {
	if authID == "" {
		return nil, apperror.NotFound("user", "(empty auth id)")
	}
	return db.getUserBy(ctx, "auth_user_id", authID)
}

// getUserBy looks up a single user on a unique column. column is always a
// constant from this file, never user input.
func (db *DB) getUserBy(ctx context.Context, column, value string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`,
		value,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s %s: %w", column, value, err)
	}
	return u, nil
}

// CreateUser inserts u. ID, Level and CreatedAt are always assigned here;
// whatever the caller put in Level is overwritten.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	if err := model.PrepareNew(u); err != nil {
		return err
	}

	u.ID = xid.New().String()
	u.CreatedAt = db.now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, nullable(u.AuthUserID), u.Name, u.Age, u.Gender, u.Email, u.Orientation,
		u.Stars, string(u.Level), u.ProfilePhotoURL, u.Bio, u.VisibleOnMap, u.CreatedAt,
	)
	if err != nil {
		if cerr := constraintError(err, "user", u.AuthUserID); cerr != nil {
			return cerr
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	return nil
}

// UpdateUser applies patch and reads the row back.
//
// The SET clause is built from patch.Columns(), which come from model code
// and include level whenever stars is present.
func (db *DB) UpdateUser(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return db.GetUser(ctx, id)
	}

	fields := patch.Fields()
	cols := patch.Columns()
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, fields[c])
	}
	args = append(args, id)

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		if cerr := constraintError(err, "user", id); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("sqlite: updating user %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apperror.NotFound("user", id)
	}

	return db.GetUser(ctx, id)
}
