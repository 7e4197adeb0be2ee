package model

import (
	"strings"
	"time"

	"github.com/sakif/starhunters/internal/apperror"
)

// Message is one directed text message. Only Read may change after insert.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Between reports whether m belongs to the conversation of a and b,
// in either direction.
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// ValidateMessage checks the arguments of a send before any request is made.
func ValidateMessage(sender, recipient, content string) error {
	if sender == "" {
		return apperror.ValidationFailed("sender_id", "sender is required")
	}
	if recipient == "" {
		return apperror.ValidationFailed("recipient_id", "recipient is required")
	}
	if sender == recipient {
		return apperror.ValidationFailed("recipient_id", "cannot message yourself")
	}
	if strings.TrimSpace(content) == "" {
		return apperror.ValidationFailed("content", "message must not be empty")
	}
	return nil
}
