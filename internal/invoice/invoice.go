// Package invoice renders a PDF invoice from an order's stored product
// snapshots. It never reads the live catalog, so the figures always
// match what the buyer was charged.
package invoice

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/alsawah/go-shop/internal/models"
	"github.com/alsawah/go-shop/internal/store"
)

// FileName is the deterministic durable name for an order's invoice.
func FileName(orderID int64) string {
	return fmt.Sprintf("invoice-%d.pdf", orderID)
}

// Render authorizes the request, then generates the invoice. Missing
// orders surface as ErrOrderNotFound, someone else's as ErrUnauthorized.
func Render(ctx context.Context, db *sql.DB, orderID, userID int64, dir string, w io.Writer) error {
	order, err := store.GetOrderForUser(ctx, db, orderID, userID)
	if err != nil {
		return err
	}
	return Generate(order, dir, w)
}

// Generate renders the document once and writes the identical bytes to
// both w and the durable copy under dir.
func Generate(order *models.Order, dir string, w io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create invoice dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, FileName(order.ID)))
	if err != nil {
		return fmt.Errorf("create invoice file: %w", err)
	}

	if err := compose(order).Output(io.MultiWriter(f, w)); err != nil {
		f.Close()
		return fmt.Errorf("render invoice: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close invoice file: %w", err)
	}

	return nil
}

func compose(order *models.Order) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "BU", 26)
	pdf.CellFormat(0, 14, "Invoice", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, "-----------------------", "", 1, "L", false, 0, "")

	total := decimal.Zero
	for _, line := range order.Lines {
		total = total.Add(line.LineTotal())
		pdf.CellFormat(0, 8,
			fmt.Sprintf("%s - %d x $%s", line.Title, line.Quantity, line.UnitPrice.StringFixed(2)),
			"", 1, "L", false, 0, "")
	}

	pdf.CellFormat(0, 8, "---", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "Total Price: $"+total.StringFixed(2), "", 1, "L", false, 0, "")

	return pdf
}
