package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID               int64          `json:"id"`
	Email            string         `json:"email"`
	PasswordHash     string         `json:"-"`
	ResetToken       sql.NullString `json:"-"`
	ResetTokenExpiry sql.NullTime   `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type Product struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	UserID      int64           `json:"user_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CartLine is a cart item joined with its live product data.
type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

type Order struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	UserEmail     string          `json:"user_email"`
	Status        string          `json:"status"`
	Total         decimal.Decimal `json:"total"`
	CheckoutKey   string          `json:"-"`
	TransactionID sql.NullString  `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []OrderLine     `json:"lines,omitempty"`
}

// OrderLine carries a denormalized copy of the product taken at order
// time. Later catalog edits never change it.
type OrderLine struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	Title       string          `json:"title"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
}

const (
	OrderStatusPending       = "pending"
	OrderStatusPaid          = "paid"
	OrderStatusPaymentFailed = "payment_failed"
)

// LineTotal returns quantity x unit price for a single order line.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ComputeTotal re-sums the order from its stored line snapshots.
func (o *Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}
