package party

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/swapmeet/swapmeet/internal/domain/validation"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Status represents party account status.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Party is a registered counterparty.
type Party struct {
	ID             int64     `json:"-"`
	PartyID        uuid.UUID `json:"partyId"`
	Handle         string    `json:"handle"`
	DisplayName    string    `json:"displayName"`
	PasswordHash   string    `json:"-"`
	TelegramChatID *int64    `json:"telegramChatId,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (p *Party) IsActive() bool {
	return p.Status == StatusActive
}

// Identity is what the core knows about an authenticated caller.
type Identity struct {
	PartyID string `json:"partyId"`
	Handle  string `json:"handle,omitempty"`
}

// Authenticator maps a bearer credential to a party identity. Implementations
// fail closed with ErrUnauthenticated.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

var handlePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]{2,30}[A-Za-z0-9]$`)

func ValidateHandle(handle string) error {
	if handle == "" {
		return validation.New("handle is required")
	}
	if !handlePattern.MatchString(handle) {
		return validation.New("handle must be 4-32 chars, start with a letter, and contain only letters, digits, '.', '_' or '-'")
	}
	return nil
}

func ValidatePassword(password string, handle string) error {
	if len(password) < 10 {
		return validation.New("password must be at least 10 characters")
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return validation.New("password must include a letter and a digit")
	}
	if handle != "" && strings.Contains(strings.ToLower(password), strings.ToLower(handle)) {
		return validation.New("password must not contain handle")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", validation.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash string, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
