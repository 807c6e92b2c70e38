// Package auth implements signup, login and password-reset flows on
// top of the account store. Passwords only ever exist here as bcrypt
// hashes; validation failures come back as field-level errors the
// caller can re-display, not as infrastructure errors.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/alsawah/go-shop/internal/database"
	"github.com/alsawah/go-shop/internal/models"
	"github.com/alsawah/go-shop/internal/store"
)

const (
	minPasswordLength = 6
	resetTokenBytes   = 32
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
}

func validateSignup(email, password, confirm string) *ValidationError {
	var fields []FieldError

	if _, err := mail.ParseAddress(email); err != nil {
		fields = append(fields, FieldError{Field: "email", Message: "please enter a valid email address"})
	}
	if len(password) < minPasswordLength {
		fields = append(fields, FieldError{
			Field:   "password",
			Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength),
		})
	}
	if password != confirm {
		fields = append(fields, FieldError{Field: "confirm_password", Message: "passwords have to match"})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Signup creates a new account with an empty cart. A taken email is
// reported as a field error like any other validation failure.
func Signup(ctx context.Context, db *sql.DB, bcryptCost int, email, password, confirm string) (*models.User, error) {
	if verr := validateSignup(email, password, confirm); verr != nil {
		return nil, verr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := store.CreateUser(ctx, db, email, string(hash))
	if err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			return nil, &ValidationError{Fields: []FieldError{
				{Field: "email", Message: "an account with that email already exists"},
			}}
		}
		return nil, err
	}

	return user, nil
}

// Login verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func Login(ctx context.Context, db *sql.DB, email, password string) (*models.User, error) {
	user, err := store.GetUserByEmail(ctx, db, email)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// RequestPasswordReset issues a high-entropy single-use token and
// persists it before any email goes out. The caller dispatches the
// reset mail; a send failure must not roll the token back.
func RequestPasswordReset(ctx context.Context, db *sql.DB, email string, expiry time.Duration) (string, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", err
	}

	if err := store.SetResetToken(ctx, db, email, token, time.Now().Add(expiry)); err != nil {
		return "", err
	}

	return token, nil
}

// ResetPassword consumes a reset token and installs the new password.
// The token, user id and expiry are all checked at the point of use and
// the token is cleared in the same statement, so it works exactly once.
func ResetPassword(ctx context.Context, db *sql.DB, bcryptCost int, userID int64, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return &ValidationError{Fields: []FieldError{
			{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)},
		}}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return store.ConsumeResetToken(ctx, db, userID, token, string(hash))
}

func generateResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
