package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alsawah/go-shop/internal/database"
	"github.com/alsawah/go-shop/internal/models"
)

const productColumns = `id, title, price, description, image_url, user_id, created_at, updated_at`

func scanProduct(row *sql.Row) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.Title,
		&product.Price,
		&product.Description,
		&product.ImageURL,
		&product.UserID,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

func CreateProduct(ctx context.Context, db *sql.DB, ownerID int64, title, description, imageURL string, price decimal.Decimal) (*models.Product, error) {
	query := `
		INSERT INTO products (title, price, description, image_url, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, title, price, description, imageURL, ownerID))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// UpdateProduct edits a product on behalf of ownerID. Editing someone
// else's product is rejected before any write happens.
func UpdateProduct(ctx context.Context, db *sql.DB, ownerID, id int64, title, description, imageURL string, price decimal.Decimal) (*models.Product, error) {
	existing, err := GetProduct(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if existing.UserID != ownerID {
		return nil, database.ErrUnauthorized
	}

	query := `
		UPDATE products
		SET title = $1, price = $2, description = $3, image_url = $4, updated_at = NOW()
		WHERE id = $5 AND user_id = $6
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, title, price, description, imageURL, id, ownerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

func DeleteProduct(ctx context.Context, db *sql.DB, ownerID, id int64) error {
	existing, err := GetProduct(ctx, db, id)
	if err != nil {
		return err
	}
	if existing.UserID != ownerID {
		return database.ErrUnauthorized
	}

	_, err = db.ExecContext(ctx,
		`DELETE FROM products WHERE id = $1 AND user_id = $2`,
		id, ownerID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	return nil
}

// ListProducts returns one storefront page of the catalog, oldest
// first, with the has-next/has-previous flags the shop pages render.
func ListProducts(ctx context.Context, db *sql.DB, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * ItemsPerPage
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY id
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, ItemsPerPage, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}

	return NewPage(products, total, page, ItemsPerPage), nil
}

// ListProductsByOwner returns every product a user sells, for the
// seller's own product management view.
func ListProductsByOwner(ctx context.Context, db *sql.DB, ownerID int64) ([]models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE user_id = $1
		ORDER BY id`

	rows, err := db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list products by owner: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

func collectProducts(rows *sql.Rows) ([]models.Product, error) {
	var products []models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.ID,
			&product.Title,
			&product.Price,
			&product.Description,
			&product.ImageURL,
			&product.UserID,
			&product.CreatedAt,
			&product.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}
