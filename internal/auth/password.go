package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/starhunters/internal/apperror"
)

// defaultCost is the bcrypt work factor. Cost 12 takes roughly 250ms on a
// modern server: negligible for a login, expensive for a brute force.
const defaultCost = 12

// MinPasswordLength is the shortest password the sign-up form accepts.
const MinPasswordLength = 6

// PasswordService provides bcrypt hashing and verification.
// The cost is a field so tests can use the bcrypt minimum (4).
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost is for tests in other packages. Do not use
// it in production: low costs are far too weak.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// ValidatePassword applies the sign-up rules: at least MinPasswordLength
// characters and no more than bcrypt's 72-byte limit.
func ValidatePassword(plaintext string) error {
	if len([]rune(plaintext)) < MinPasswordLength {
		return apperror.ValidationFailed("password", "password must be at least 6 characters")
	}
	if len(plaintext) > 72 {
		return apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}
	return nil
}

// Hash hashes the plaintext password with bcrypt. The result embeds the
// salt and cost and can be stored as is.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	// bcrypt silently truncates past 72 bytes; reject instead.
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// ErrInvalidPassword is returned by Verify on a mismatch.
var ErrInvalidPassword = errors.New("auth: invalid password")

// Verify checks plaintext against a stored hash in constant time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
