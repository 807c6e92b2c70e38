package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alsawah/go-shop/internal/database"
	"github.com/alsawah/go-shop/internal/models"
)

// AddToCart adds one unit of a product to the user's cart. The upsert
// is a single atomic statement, so two concurrent adds for the same
// product both land as increments instead of one overwriting the other.
func AddToCart(ctx context.Context, db *sql.DB, userID, productID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, 1, NOW(), NOW())
		 ON CONFLICT (user_id, product_id)
		 DO UPDATE SET quantity = cart_items.quantity + 1, updated_at = NOW()`,
		userID, productID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrProductNotFound
		}
		return fmt.Errorf("add to cart: %w", err)
	}

	return nil
}

// UpdateCartQuantity sets the quantity of a cart line outright. A
// quantity of zero or less removes the line; zero-quantity rows are
// never stored.
func UpdateCartQuantity(ctx context.Context, db *sql.DB, userID, productID int64, quantity int) error {
	if quantity <= 0 {
		return RemoveFromCart(ctx, db, userID, productID)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE cart_items
		 SET quantity = $1, updated_at = NOW()
		 WHERE user_id = $2 AND product_id = $3`,
		quantity, userID, productID)
	if err != nil {
		return fmt.Errorf("update cart quantity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

// RemoveFromCart deletes a cart line. Removing a product that is not in
// the cart is a no-op, not an error.
func RemoveFromCart(ctx context.Context, db *sql.DB, userID, productID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID)
	if err != nil {
		return fmt.Errorf("remove from cart: %w", err)
	}

	return nil
}

func ClearCart(ctx context.Context, db *sql.DB, userID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	return nil
}

// GetCart returns the user's cart lines joined with live product data,
// in insertion order. Read-only.
func GetCart(ctx context.Context, db *sql.DB, userID int64) ([]models.CartLine, error) {
	query := `
		SELECT p.id, p.title, p.price, p.description, p.image_url, p.user_id,
		       p.created_at, p.updated_at, ci.quantity
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.position`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	defer rows.Close()

	var lines []models.CartLine
	for rows.Next() {
		var line models.CartLine
		err := rows.Scan(
			&line.Product.ID,
			&line.Product.Title,
			&line.Product.Price,
			&line.Product.Description,
			&line.Product.ImageURL,
			&line.Product.UserID,
			&line.Product.CreatedAt,
			&line.Product.UpdatedAt,
			&line.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}
