package integration

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alsawah/go-shop/internal/checkout"
	"github.com/alsawah/go-shop/internal/database"
	"github.com/alsawah/go-shop/internal/invoice"
	"github.com/alsawah/go-shop/internal/models"
	"github.com/alsawah/go-shop/internal/payment"
	"github.com/alsawah/go-shop/internal/store"
)

type fakeGateway struct {
	fail    bool
	calls   int
	amounts []int64
}

func (g *fakeGateway) Capture(ctx context.Context, amountMinorUnits int64, currency, token string, orderID int64) (string, error) {
	g.calls++
	g.amounts = append(g.amounts, amountMinorUnits)
	if g.fail {
		return "", &payment.CaptureError{StatusCode: 402, Message: "card declined"}
	}
	return "ch_test_1", nil
}

func newEngine(db *sql.DB, gateway payment.Gateway) *checkout.Engine {
	return checkout.NewEngine(db, gateway, "usd", slog.Default())
}

func populateCart(t *testing.T, db *sql.DB, userID int64) (book, pen *models.Product) {
	t.Helper()
	ctx := context.Background()

	book = createTestProduct(t, db, userID, "Book", "10.00")
	pen = createTestProduct(t, db, userID, "Pen", "5.00")

	// 2 x 10.00 + 1 x 5.00 = 25.00
	for i := 0; i < 2; i++ {
		if err := store.AddToCart(ctx, db, userID, book.ID); err != nil {
			t.Fatalf("Add book: %v", err)
		}
	}
	if err := store.AddToCart(ctx, db, userID, pen.ID); err != nil {
		t.Fatalf("Add pen: %v", err)
	}

	return book, pen
}

func TestCheckoutSuccess(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	populateCart(t, db, user.ID)

	gateway := &fakeGateway{}
	order, err := newEngine(db, gateway).PlaceOrder(ctx, checkout.Request{
		UserID:       user.ID,
		CheckoutKey:  uuid.NewString(),
		PaymentToken: "tok_visa",
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if order.Status != models.OrderStatusPaid {
		t.Errorf("Expected status paid, got %s", order.Status)
	}
	if !order.Total.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("Expected total 25.00, got %s", order.Total)
	}
	if len(gateway.amounts) != 1 || gateway.amounts[0] != 2500 {
		t.Errorf("Expected one capture of 2500 minor units, got %v", gateway.amounts)
	}
	if !order.TransactionID.Valid || order.TransactionID.String != "ch_test_1" {
		t.Errorf("Transaction id not recorded: %+v", order.TransactionID)
	}

	lines, err := store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Cart should be empty after successful capture, got %d lines", len(lines))
	}
}

func TestCheckoutCaptureFailureKeepsCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	populateCart(t, db, user.ID)

	gateway := &fakeGateway{fail: true}
	order, err := newEngine(db, gateway).PlaceOrder(ctx, checkout.Request{
		UserID:       user.ID,
		CheckoutKey:  uuid.NewString(),
		PaymentToken: "tok_declined",
	})

	var captureErr *payment.CaptureError
	if !errors.As(err, &captureErr) {
		t.Fatalf("Expected CaptureError, got: %v", err)
	}
	if order == nil || order.Status != models.OrderStatusPaymentFailed {
		t.Fatalf("Expected a payment_failed order, got %+v", order)
	}

	// The persisted order is not rolled back.
	stored, err := store.GetOrderForUser(ctx, db, order.ID, user.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if stored.Status != models.OrderStatusPaymentFailed {
		t.Errorf("Stored order status: %s", stored.Status)
	}

	lines, err := store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(lines) != 2 {
		t.Errorf("Cart must be unchanged after failed capture, got %d lines", len(lines))
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	user := createTestUser(t, db)

	_, err := newEngine(db, &fakeGateway{}).PlaceOrder(context.Background(), checkout.Request{
		UserID:       user.ID,
		CheckoutKey:  uuid.NewString(),
		PaymentToken: "tok_visa",
	})
	if !errors.Is(err, database.ErrEmptyCart) {
		t.Fatalf("Expected ErrEmptyCart, got: %v", err)
	}
}

func TestCheckoutIdempotentPerAttempt(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	populateCart(t, db, user.ID)

	gateway := &fakeGateway{}
	engine := newEngine(db, gateway)
	key := uuid.NewString()

	first, err := engine.PlaceOrder(ctx, checkout.Request{UserID: user.ID, CheckoutKey: key, PaymentToken: "tok_visa"})
	if err != nil {
		t.Fatalf("First attempt: %v", err)
	}

	second, err := engine.PlaceOrder(ctx, checkout.Request{UserID: user.ID, CheckoutKey: key, PaymentToken: "tok_visa"})
	if err != nil {
		t.Fatalf("Replayed attempt: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Replay created a second order: %d vs %d", first.ID, second.ID)
	}
	if gateway.calls != 1 {
		t.Errorf("Replay must not capture again, gateway called %d times", gateway.calls)
	}
}

func TestOrderSnapshotImmuneToCatalogEdits(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	book, _ := populateCart(t, db, user.ID)

	order, err := newEngine(db, &fakeGateway{}).PlaceOrder(ctx, checkout.Request{
		UserID:       user.ID,
		CheckoutKey:  uuid.NewString(),
		PaymentToken: "tok_visa",
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	// Reprice and rename the product after the fact.
	_, err = store.UpdateProduct(ctx, db, user.ID, book.ID,
		"Book (price hike)", "", "", decimal.RequireFromString("99.99"))
	if err != nil {
		t.Fatalf("Update product: %v", err)
	}

	stored, err := store.GetOrderForUser(ctx, db, order.ID, user.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}

	if !stored.Total.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("Stored total changed: %s", stored.Total)
	}
	if !stored.ComputeTotal().Equal(stored.Total) {
		t.Errorf("Snapshot re-sum %s != stored total %s", stored.ComputeTotal(), stored.Total)
	}
	if stored.Lines[0].Title != "Book" {
		t.Errorf("Snapshot title changed: %s", stored.Lines[0].Title)
	}
}

func TestInvoiceAuthorization(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	buyer := createTestUser(t, db)
	stranger := createTestUser(t, db)
	populateCart(t, db, buyer.ID)

	order, err := newEngine(db, &fakeGateway{}).PlaceOrder(ctx, checkout.Request{
		UserID:       buyer.ID,
		CheckoutKey:  uuid.NewString(),
		PaymentToken: "tok_visa",
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	dir := t.TempDir()
	var buf bytes.Buffer

	if err := invoice.Render(ctx, db, order.ID, stranger.ID, dir, &buf); !errors.Is(err, database.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for a stranger, got: %v", err)
	}
	if err := invoice.Render(ctx, db, order.ID+999, buyer.ID, dir, &buf); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got: %v", err)
	}

	buf.Reset()
	if err := invoice.Render(ctx, db, order.ID, buyer.ID, dir, &buf); err != nil {
		t.Fatalf("Owner invoice should render: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Errorf("Invoice is not a PDF document")
	}
}

func TestListOrdersByUser(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	populateCart(t, db, user.ID)

	if _, err := newEngine(db, &fakeGateway{}).PlaceOrder(ctx, checkout.Request{
		UserID:       user.ID,
		CheckoutKey:  uuid.NewString(),
		PaymentToken: "tok_visa",
	}); err != nil {
		t.Fatalf("Place order: %v", err)
	}

	orders, err := store.ListOrdersByUser(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("Expected 1 order, got %d", len(orders))
	}
	if len(orders[0].Lines) != 2 {
		t.Errorf("Expected 2 order lines, got %d", len(orders[0].Lines))
	}
}
