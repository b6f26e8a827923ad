// Package account is the users directory and the identity boundary of the HTTP
// and push surfaces: password hashing, access tokens and request identity.
package account

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// User is a registered account. IDs are UUIDs.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUserInput describes a registration. PasswordHash is already hashed.
type CreateUserInput struct {
	Username     string
	DisplayName  string
	PasswordHash string
	Now          time.Time
}

// Directory is the users persistence boundary.
type Directory interface {
	Create(ctx context.Context, in CreateUserInput) (User, error)
	// ByID returns ErrUserNotFound for unknown ids. There is no fallback identity.
	ByID(ctx context.Context, id string) (User, error)
	ByUsername(ctx context.Context, username string) (User, error)
}

const (
	minUsernameLen    = 3
	maxUsernameLen    = 32
	maxDisplayNameLen = 64
)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseUserID validates and canonicalizes a user id.
func ParseUserID(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", OpError{Op: "account.ParseUserID", Kind: ErrInvalidInput, Msg: "user id must be a UUID"}
	}
	return id.String(), nil
}

func validateCreate(op string, in *CreateUserInput) error {
	in.Username = NormalizeUsername(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	n := utf8.RuneCountInString(in.Username)
	if n < minUsernameLen || n > maxUsernameLen {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username length"}
	}
	for _, r := range in.Username {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '.' || r == '-') {
			return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username characters"}
		}
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Username
	}
	if utf8.RuneCountInString(in.DisplayName) > maxDisplayNameLen {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "display name too long"}
	}
	if in.PasswordHash == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing password hash"}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return nil
}
