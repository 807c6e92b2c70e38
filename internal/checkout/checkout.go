// Package checkout drives the cart-to-order state machine:
//
//	CartPopulated -> TotalComputed -> OrderPersisted -> PaymentCaptured -> CartCleared
//
// The order is durably persisted before the gateway is called, so a
// failed capture leaves an auditable payment_failed order and an
// untouched cart instead of silently losing the attempt.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alsawah/go-shop/internal/models"
	"github.com/alsawah/go-shop/internal/payment"
	"github.com/alsawah/go-shop/internal/store"
)

type Request struct {
	UserID int64
	// CheckoutKey identifies one checkout attempt. Retrying with the
	// same key never creates a second order.
	CheckoutKey  string
	PaymentToken string
}

type Engine struct {
	db       *sql.DB
	gateway  payment.Gateway
	currency string
	logger   *slog.Logger
}

func NewEngine(db *sql.DB, gateway payment.Gateway, currency string, logger *slog.Logger) *Engine {
	return &Engine{db: db, gateway: gateway, currency: currency, logger: logger}
}

// MinorUnits converts a decimal amount to integer minor units (cents).
// The conversion happens once, after decimal accumulation, so no float
// ever touches the total.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).IntPart()
}

// PlaceOrder runs one checkout attempt. On capture failure the
// persisted order is marked payment_failed and the *payment.CaptureError
// is returned alongside it; the cart is only cleared on success.
func (e *Engine) PlaceOrder(ctx context.Context, req Request) (*models.Order, error) {
	order, created, err := store.CreateOrderFromCart(ctx, e.db, req.UserID, req.CheckoutKey)
	if err != nil {
		return nil, err
	}

	// A replayed attempt whose order already left pending is settled;
	// return it as-is rather than charging twice.
	if !created && order.Status != models.OrderStatusPending {
		return order, nil
	}

	transactionID, err := e.gateway.Capture(ctx, MinorUnits(order.Total), e.currency, req.PaymentToken, order.ID)
	if err != nil {
		var captureErr *payment.CaptureError
		if errors.As(err, &captureErr) {
			if markErr := store.MarkOrderPaymentFailed(ctx, e.db, order.ID); markErr != nil {
				e.logger.ErrorContext(ctx, "failed to mark order payment_failed",
					"order_id", order.ID, "error", markErr)
			}
			order.Status = models.OrderStatusPaymentFailed
			return order, err
		}
		return order, fmt.Errorf("capture payment for order %d: %w", order.ID, err)
	}

	if err := store.MarkOrderPaid(ctx, e.db, order.ID, req.UserID, transactionID); err != nil {
		// The charge went through; never report this as a failed
		// payment. Reconciliation finds the order via the metadata.
		return order, fmt.Errorf("record capture for order %d (transaction %s): %w", order.ID, transactionID, err)
	}

	order.Status = models.OrderStatusPaid
	order.TransactionID = sql.NullString{String: transactionID, Valid: true}
	return order, nil
}
