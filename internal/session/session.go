// Package session backs the authentication boundary with opaque bearer
// tokens. Every cart, order and invoice operation requires a token that
// resolves to a user; everything else about session handling (cookies,
// CSRF) lives outside this module.
package session

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/alsawah/go-shop/internal/database"
)

func Create(ctx context.Context, db *sql.DB, userID int64) (string, error) {
	token := uuid.NewString()

	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, created_at) VALUES ($1, $2, NOW())`,
		token, userID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return token, nil
}

func Resolve(ctx context.Context, db *sql.DB, token string) (int64, error) {
	if _, err := uuid.Parse(token); err != nil {
		return 0, database.ErrSessionNotFound
	}

	var userID int64
	err := db.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE token = $1`,
		token).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrSessionNotFound
		}
		return 0, fmt.Errorf("resolve session: %w", err)
	}

	return userID, nil
}

func Destroy(ctx context.Context, db *sql.DB, token string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token = $1`,
		token)
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}

	return nil
}
