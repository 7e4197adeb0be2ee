package sqlite

import (
	"context"
	"fmt"

	"github.com/rs/xid"

	"github.com/sakif/starhunters/internal/model"
)

// GetConversation returns the messages exchanged between a and b in either
// direction, oldest first. Messages with the same timestamp keep insertion order.
func (db *DB) GetConversation(ctx context.Context, a, b string) ([]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, content, read, created_at
		 FROM messages
		 WHERE (sender_id = ? AND recipient_id = ?)
		    OR (sender_id = ? AND recipient_id = ?)
		 ORDER BY created_at ASC, rowid ASC`,
		a, b, b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading conversation %s/%s: %w", a, b, err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating messages: %w", err)
	}

	return msgs, nil
}

// SendMessage inserts one unread message from sender to recipient.
func (db *DB) SendMessage(ctx context.Context, sender, recipient, content string) (*model.Message, error) {
	if err := model.ValidateMessage(sender, recipient, content); err != nil {
		return nil, err
	}

	m := &model.Message{
		ID:          xid.New().String(),
		SenderID:    sender,
		RecipientID: recipient,
		Content:     content,
		CreatedAt:   db.now(),
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, content, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.RecipientID, m.Content, m.Read, m.CreatedAt,
	)
	if err != nil {
		if cerr := constraintError(err, "message", m.ID); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("sqlite: inserting message: %w", err)
	}

	return m, nil
}
