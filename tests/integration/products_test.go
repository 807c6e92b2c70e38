package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alsawah/go-shop/internal/database"
	"github.com/alsawah/go-shop/internal/models"
	"github.com/alsawah/go-shop/internal/store"
)

func TestListProductsPagination(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	owner := createTestUser(t, db)
	for i := 0; i < 4; i++ {
		createTestProduct(t, db, owner.ID, fmt.Sprintf("Product %d", i+1), "10.00")
	}

	first, err := store.ListProducts(ctx, db, 1)
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if got := len(first.Items.([]models.Product)); got != store.ItemsPerPage {
		t.Errorf("Expected %d items on page 1, got %d", store.ItemsPerPage, got)
	}
	if !first.HasNextPage || first.HasPreviousPage {
		t.Errorf("Page 1 flags wrong: next=%v prev=%v", first.HasNextPage, first.HasPreviousPage)
	}

	second, err := store.ListProducts(ctx, db, 2)
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if got := len(second.Items.([]models.Product)); got != 1 {
		t.Errorf("Expected 1 item on page 2, got %d", got)
	}
	if second.HasNextPage || !second.HasPreviousPage {
		t.Errorf("Page 2 flags wrong: next=%v prev=%v", second.HasNextPage, second.HasPreviousPage)
	}
	if second.LastPage != 2 {
		t.Errorf("Expected last page 2, got %d", second.LastPage)
	}
}

func TestUpdateProductOwnerOnly(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	owner := createTestUser(t, db)
	stranger := createTestUser(t, db)
	product := createTestProduct(t, db, owner.ID, "Book", "10.00")

	_, err := store.UpdateProduct(ctx, db, stranger.ID, product.ID,
		"Hijacked", "", "", decimal.RequireFromString("1.00"))
	if !errors.Is(err, database.ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got: %v", err)
	}

	updated, err := store.UpdateProduct(ctx, db, owner.ID, product.ID,
		"Book (2nd ed.)", "Updated", "images/book2.png", decimal.RequireFromString("12.50"))
	if err != nil {
		t.Fatalf("Owner update should succeed: %v", err)
	}
	if updated.Title != "Book (2nd ed.)" {
		t.Errorf("Title not updated: %s", updated.Title)
	}
}

func TestDeleteProductOwnerOnly(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	owner := createTestUser(t, db)
	stranger := createTestUser(t, db)
	product := createTestProduct(t, db, owner.ID, "Book", "10.00")

	if err := store.DeleteProduct(ctx, db, stranger.ID, product.ID); !errors.Is(err, database.ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got: %v", err)
	}

	if err := store.DeleteProduct(ctx, db, owner.ID, product.ID); err != nil {
		t.Fatalf("Owner delete should succeed: %v", err)
	}

	if _, err := store.GetProduct(ctx, db, product.ID); !errors.Is(err, database.ErrProductNotFound) {
		t.Fatalf("Expected ErrProductNotFound after delete, got: %v", err)
	}
}

func TestDeletedProductLeavesCarts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	owner := createTestUser(t, db)
	buyer := createTestUser(t, db)
	product := createTestProduct(t, db, owner.ID, "Book", "10.00")

	if err := store.AddToCart(ctx, db, buyer.ID, product.ID); err != nil {
		t.Fatalf("Add to cart: %v", err)
	}
	if err := store.DeleteProduct(ctx, db, owner.ID, product.ID); err != nil {
		t.Fatalf("Delete product: %v", err)
	}

	lines, err := store.GetCart(ctx, db, buyer.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Deleted product should leave carts, got %+v", lines)
	}
}

func TestListProductsByOwner(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	owner := createTestUser(t, db)
	other := createTestUser(t, db)
	createTestProduct(t, db, owner.ID, "Mine", "10.00")
	createTestProduct(t, db, other.ID, "Theirs", "10.00")

	products, err := store.ListProductsByOwner(ctx, db, owner.ID)
	if err != nil {
		t.Fatalf("List by owner: %v", err)
	}
	if len(products) != 1 || products[0].Title != "Mine" {
		t.Errorf("Expected only the owner's product, got %+v", products)
	}
}
