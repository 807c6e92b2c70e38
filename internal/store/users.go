package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alsawah/go-shop/internal/database"
	"github.com/alsawah/go-shop/internal/models"
)

const userColumns = `id, email, password_hash, reset_token, reset_token_expiry, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.ResetToken,
		&user.ResetTokenExpiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func CreateUser(ctx context.Context, db *sql.DB, email, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(db.QueryRowContext(ctx, query, email, passwordHash))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, database.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db *sql.DB, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(db.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return user, nil
}

// SetResetToken attaches a password-reset token to the user with the
// given email. The token is persisted before any email is dispatched.
func SetResetToken(ctx context.Context, db *sql.DB, email, token string, expiry time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE users
		 SET reset_token = $1, reset_token_expiry = $2, updated_at = NOW()
		 WHERE email = $3`,
		token, expiry, email)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}

	return nil
}

// GetUserByResetToken resolves a live (unexpired) reset token. Expiry
// is evaluated against the database clock at lookup time.
func GetUserByResetToken(ctx context.Context, db *sql.DB, token string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE reset_token = $1 AND reset_token_expiry > NOW()`

	user, err := scanUser(db.QueryRowContext(ctx, query, token))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrInvalidResetToken
		}
		return nil, fmt.Errorf("get user by reset token: %w", err)
	}

	return user, nil
}

// ConsumeResetToken swaps in the new password hash and clears the token
// in one statement, so a token can never be used twice. The expiry check
// happens here, at the point of use.
func ConsumeResetToken(ctx context.Context, db *sql.DB, userID int64, token, passwordHash string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE users
		 SET password_hash = $1,
		     reset_token = NULL,
		     reset_token_expiry = NULL,
		     updated_at = NOW()
		 WHERE id = $2
		   AND reset_token = $3
		   AND reset_token_expiry > NOW()`,
		passwordHash, userID, token)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrInvalidResetToken
	}

	return nil
}
