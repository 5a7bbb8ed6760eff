package identity

import (
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned when no lender matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when the email is already registered.
	ErrUserExists = errors.New("user exists")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// User is a registered lender.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	TokenVersion int
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// Credentials request structure.
type Credentials struct {
	Email    string
	Password string
	Name     string
}
