package integration

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/alsawah/go-shop/internal/auth"
	"github.com/alsawah/go-shop/internal/models"
	"github.com/alsawah/go-shop/internal/store"
)

var userSeq atomic.Int64

func createTestUser(t *testing.T, db *sql.DB) *models.User {
	t.Helper()

	email := fmt.Sprintf("user%d@example.com", userSeq.Add(1))
	user, err := auth.Signup(context.Background(), db, bcrypt.MinCost, email, "secret1", "secret1")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	return user
}

func createTestProduct(t *testing.T, db *sql.DB, ownerID int64, title, price string) *models.Product {
	t.Helper()

	product, err := store.CreateProduct(context.Background(), db, ownerID,
		title, "Test product", "images/test.png", decimal.RequireFromString(price))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	return product
}
