package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alsawah/go-shop/internal/database"
	"github.com/alsawah/go-shop/internal/models"
)

const orderColumns = `id, user_id, user_email, status, total, checkout_key, transaction_id, created_at`

func scanOrder(row *sql.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.UserEmail,
		&order.Status,
		&order.Total,
		&order.CheckoutKey,
		&order.TransactionID,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrderFromCart snapshots the user's cart into a new pending
// order inside one serializable transaction: the populated cart rows
// are read with their products locked, the total is accumulated in
// decimal arithmetic, and every product field is copied onto the order
// lines so later catalog edits never touch order history.
//
// checkoutKey makes the operation at-most-once per checkout attempt: a
// retry with the same key returns the already-created order (created ==
// false) instead of inserting a duplicate.
func CreateOrderFromCart(ctx context.Context, db *sql.DB, userID int64, checkoutKey string) (order *models.Order, created bool, err error) {
	err = database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		order = nil
		created = false

		existing, err := getOrderByCheckoutKey(ctx, tx, checkoutKey)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check checkout key: %w", err)
		}
		if existing != nil {
			order = existing
			return nil
		}

		user := &models.User{}
		err = tx.QueryRowContext(ctx,
			`SELECT id, email FROM users WHERE id = $1`,
			userID).Scan(&user.ID, &user.Email)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrUserNotFound
			}
			return fmt.Errorf("get user: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT p.id, ci.quantity, p.title, p.price, p.description, p.image_url
			 FROM cart_items ci
			 JOIN products p ON p.id = ci.product_id
			 WHERE ci.user_id = $1
			 ORDER BY ci.position
			 FOR UPDATE OF p`,
			userID)
		if err != nil {
			return fmt.Errorf("read cart: %w", err)
		}
		defer rows.Close()

		var lines []models.OrderLine
		for rows.Next() {
			var line models.OrderLine
			err := rows.Scan(
				&line.ProductID,
				&line.Quantity,
				&line.Title,
				&line.UnitPrice,
				&line.Description,
				&line.ImageURL,
			)
			if err != nil {
				return fmt.Errorf("scan cart line: %w", err)
			}
			lines = append(lines, line)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(lines) == 0 {
			return database.ErrEmptyCart
		}

		total := decimal.Zero
		for _, line := range lines {
			total = total.Add(line.LineTotal())
		}

		created = true
		order = &models.Order{
			UserID:      user.ID,
			UserEmail:   user.Email,
			Status:      models.OrderStatusPending,
			Total:       total,
			CheckoutKey: checkoutKey,
			Lines:       lines,
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, user_email, status, total, checkout_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			 RETURNING id, created_at`,
			order.UserID, order.UserEmail, order.Status, order.Total, order.CheckoutKey,
		).Scan(&order.ID, &order.CreatedAt)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for i := range order.Lines {
			line := &order.Lines[i]
			line.OrderID = order.ID
			err = tx.QueryRowContext(ctx,
				`INSERT INTO order_lines (order_id, product_id, quantity, title, unit_price, description, image_url, position, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
				 RETURNING id`,
				line.OrderID, line.ProductID, line.Quantity, line.Title,
				line.UnitPrice, line.Description, line.ImageURL, i,
			).Scan(&line.ID)
			if err != nil {
				return fmt.Errorf("create order line: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		return nil, false, err
	}

	return order, created, nil
}

func getOrderByCheckoutKey(ctx context.Context, tx *sql.Tx, checkoutKey string) (*models.Order, error) {
	order := &models.Order{}
	err := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE checkout_key = $1`,
		checkoutKey,
	).Scan(
		&order.ID,
		&order.UserID,
		&order.UserEmail,
		&order.Status,
		&order.Total,
		&order.CheckoutKey,
		&order.TransactionID,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// MarkOrderPaid records the gateway transaction id and empties the
// user's cart in the same transaction, so a crash cannot leave a paid
// order next to a still-populated cart.
func MarkOrderPaid(ctx context.Context, db *sql.DB, orderID, userID int64, transactionID string) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, transaction_id = $2, updated_at = NOW()
			 WHERE id = $3 AND status = $4`,
			models.OrderStatusPaid, transactionID, orderID, models.OrderStatusPending)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrOrderNotFound
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE user_id = $1`,
			userID)
		if err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		return nil
	})
}

// MarkOrderPaymentFailed flags a pending order whose capture failed.
// The order stays on record and the cart is left untouched.
func MarkOrderPaymentFailed(ctx context.Context, db *sql.DB, orderID int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		models.OrderStatusPaymentFailed, orderID, models.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("mark order payment failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

// GetOrderForUser loads an order with its lines, enforcing ownership.
// A missing order is NotFound; someone else's order is Unauthorized.
func GetOrderForUser(ctx context.Context, db *sql.DB, orderID, userID int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.UserID != userID {
		return nil, database.ErrUnauthorized
	}

	if order.Lines, err = getOrderLines(ctx, db, order.ID); err != nil {
		return nil, err
	}

	return order, nil
}

// ListOrdersByUser returns the user's order history, newest first, with
// lines populated.
func ListOrdersByUser(ctx context.Context, db *sql.DB, userID int64) ([]models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.UserEmail,
			&order.Status,
			&order.Total,
			&order.CheckoutKey,
			&order.TransactionID,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range orders {
		if orders[i].Lines, err = getOrderLines(ctx, db, orders[i].ID); err != nil {
			return nil, err
		}
	}

	return orders, nil
}

func getOrderLines(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderLine, error) {
	query := `
		SELECT id, order_id, product_id, quantity, title, unit_price, description, image_url
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position`

	rows, err := db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		var line models.OrderLine
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.Quantity,
			&line.Title,
			&line.UnitPrice,
			&line.Description,
			&line.ImageURL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}
