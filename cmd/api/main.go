package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alsawah/go-shop/internal/auth"
	"github.com/alsawah/go-shop/internal/checkout"
	"github.com/alsawah/go-shop/internal/config"
	"github.com/alsawah/go-shop/internal/database"
	"github.com/alsawah/go-shop/internal/invoice"
	"github.com/alsawah/go-shop/internal/mail"
	"github.com/alsawah/go-shop/internal/payment"
	"github.com/alsawah/go-shop/internal/session"
	"github.com/alsawah/go-shop/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	var mailer mail.Mailer
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPMailer(cfg.SMTP)
	} else {
		mailer = mail.NewLogMailer(logger)
	}

	gateway := payment.NewClient(&cfg.Payment)
	engine := checkout.NewEngine(db, gateway, cfg.Payment.Currency, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/signup", handleSignup(db, cfg, logger))
	mux.HandleFunc("/login", handleLogin(db, logger))
	mux.HandleFunc("/logout", requireUser(db, handleLogout(db, logger)))
	mux.HandleFunc("/reset", handleReset(db, cfg, mailer, logger))
	mux.HandleFunc("/reset/", handleResetToken(db, logger))
	mux.HandleFunc("/reset-password", handleResetPassword(db, cfg, logger))
	mux.HandleFunc("/products", handleProducts(db, logger))
	mux.HandleFunc("/products/", handleProductByID(db, logger))
	mux.HandleFunc("/admin/products", requireUser(db, handleAdminProducts(db, logger)))
	mux.HandleFunc("/cart", requireUser(db, handleCart(db, logger)))
	mux.HandleFunc("/orders", requireUser(db, handleOrders(db, engine, logger)))
	mux.HandleFunc("/orders/", requireUser(db, handleOrderInvoice(db, cfg, logger)))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("service", "go-shop")
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID int64)

// requireUser is the authentication boundary: cart, order and invoice
// operations are rejected outright without a resolvable session token.
func requireUser(db *sql.DB, next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		userID, err := session.Resolve(r.Context(), db, token)
		if err != nil {
			if errors.Is(err, database.ErrSessionNotFound) {
				respondError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}

		next(w, r, userID)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func handleSignup(db *sql.DB, cfg *config.Config, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Email           string `json:"email"`
			Password        string `json:"password"`
			ConfirmPassword string `json:"confirm_password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		user, err := auth.Signup(r.Context(), db, cfg.Auth.BcryptCost, req.Email, req.Password, req.ConfirmPassword)
		if err != nil {
			respondDomainError(w, logger, err)
			return
		}

		respondJSON(w, http.StatusCreated, user)
	}
}

func handleLogin(db *sql.DB, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		user, err := auth.Login(r.Context(), db, req.Email, req.Password)
		if err != nil {
			respondDomainError(w, logger, err)
			return
		}

		token, err := session.Create(r.Context(), db, user.ID)
		if err != nil {
			respondDomainError(w, logger, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"token": token,
			"user":  user,
		})
	}
}

func handleLogout(db *sql.DB, logger *slog.Logger) userHandler {
	return func(w http.ResponseWriter, r *http.Request, userID int64) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		if err := session.Destroy(r.Context(), db, bearerToken(r)); err != nil {
			respondDomainError(w, logger, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
	}
}

func handleReset(db *sql.DB, cfg *config.Config, mailer mail.Mailer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		token, err := auth.RequestPasswordReset(r.Context(), db, req.Email, cfg.Auth.ResetTokenExpiry)
		if err != nil {
			// Whether the email exists is not revealed to the caller.
			if errors.Is(err, database.ErrUserNotFound) {
				respondJSON(w, http.StatusOK, map[string]string{"message": "Reset email sent"})
				return
			}
			respondDomainError(w, logger, err)
			return
		}

		// Token is already durable; delivery is best effort and must
		// not hold the response or die with the request context.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			body := `<p>You requested a password reset</p>` +
				`<p>Use this token to set a new password: ` + token + `</p>`
			if err := mailer.Send(ctx, req.Email, "Password reset", body); err != nil {
				logger.Error("send reset email", "error", err)
			}
		}()

		respondJSON(w, http.StatusOK, map[string]string{"message": "Reset email sent"})
	}
}

func handleResetToken(db *sql.DB, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		token := strings.TrimPrefix(r.URL.Path, "/reset/")
		user, err := store.GetUserByResetToken(r.Context(), db, token)
		if err != nil {
			respondDomainError(w, logger, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"user_id": user.ID,
			"token":   token,
		})
	}
}

func handleResetPassword(db *sql.DB, cfg *config.Config, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			UserID   int64  `json:"user_id"`
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := auth.ResetPassword(r.Context(), db, cfg.Auth.BcryptCost, req.UserID, req.Token, req.Password); err != nil {
			respondDomainError(w, logger, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
	}
}

func handleProducts(db *sql.DB, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page < 1 {
				page = 1
			}

			result, err := store.ListProducts(r.Context(), db, page)
			if err != nil {
				respondDomainError(w, logger, err)
				return
			}

			respondJSON(w, http.StatusOK, result)

		case http.MethodPost:
			requireUser(db, func(w http.ResponseWriter, r *http.Request, userID int64) {
				var req struct {
					Title       string `json:"title"`
					Price       string `json:"price"`
					Description string `json:"description"`
					ImageURL    string `json:"image_url"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					respondError(w, http.StatusBadRequest, "Invalid request body")
					return
				}

				price, err := decimal.NewFromString(req.Price)
				if err != nil || price.IsNegative() {
					respondError(w, http.StatusUnprocessableEntity, "Invalid price")
					return
				}

				product, err := store.CreateProduct(r.Context(), db, userID, req.Title, req.Description, req.ImageURL, price)
				if err != nil {
					respondDomainError(w, logger, err)
					return
				}

				respondJSON(w, http.StatusCreated, product)
			})(w, r)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleProductByID(db *sql.DB, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := strings.TrimPrefix(r.URL.Path, "/products/")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid product ID")
			return
		}

		switch r.Method {
		case http.MethodGet:
			product, err := store.GetProduct(r.Context(), db, id)
			if err != nil {
				respondDomainError(w, logger, err)
				return
			}

			respondJSON(w, http.StatusOK, product)

		case http.MethodPut:
			requireUser(db, func(w http.ResponseWriter, r *http.Request, userID int64) {
				var req struct {
					Title       string `json:"title"`
					Price       string `json:"price"`
					Description string `json:"description"`
					ImageURL    string `json:"image_url"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					respondError(w, http.StatusBadRequest, "Invalid request body")
					return
				}

				price, err := decimal.NewFromString(req.Price)
				if err != nil || price.IsNegative() {
					respondError(w, http.StatusUnprocessableEntity, "Invalid price")
					return
				}

				product, err := store.UpdateProduct(r.Context(), db, userID, id, req.Title, req.Description, req.ImageURL, price)
				if err != nil {
					respondDomainError(w, logger, err)
					return
				}

				respondJSON(w, http.StatusOK, product)
			})(w, r)

		case http.MethodDelete:
			requireUser(db, func(w http.ResponseWriter, r *http.Request, userID int64) {
				if err := store.DeleteProduct(r.Context(), db, userID, id); err != nil {
					respondDomainError(w, logger, err)
					return
				}

				respondJSON(w, http.StatusOK, map[string]string{"message": "Product deleted"})
			})(w, r)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleAdminProducts(db *sql.DB, logger *slog.Logger) userHandler {
	return func(w http.ResponseWriter, r *http.Request, userID int64) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		products, err := store.ListProductsByOwner(r.Context(), db, userID)
		if err != nil {
			respondDomainError(w, logger, err)
			return
		}

		respondJSON(w, http.StatusOK, products)
	}
}

func handleCart(db *sql.DB, logger *slog.Logger) userHandler {
	return func(w http.ResponseWriter, r *http.Request, userID int64) {
		ctx := r.Context()

		switch r.Method {
		case http.MethodGet:
			lines, err := store.GetCart(ctx, db, userID)
			if err != nil {
				respondDomainError(w, logger, err)
				return
			}

			respondJSON(w, http.StatusOK, map[string]interface{}{"items": lines})

		case http.MethodPost:
			var req struct {
				ProductID int64 `json:"product_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			if err := store.AddToCart(ctx, db, userID, req.ProductID); err != nil {
				respondDomainError(w, logger, err)
				return
			}

			respondJSON(w, http.StatusOK, map[string]string{"message": "Added to cart"})

		case http.MethodPut:
			var req struct {
				ProductID int64 `json:"product_id"`
				Quantity  int   `json:"quantity"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			if err := store.UpdateCartQuantity(ctx, db, userID, req.ProductID, req.Quantity); err != nil {
				respondDomainError(w, logger, err)
				return
			}

			respondJSON(w, http.StatusOK, map[string]string{"message": "Cart updated"})

		case http.MethodDelete:
			productIDStr := r.URL.Query().Get("product_id")
			if productIDStr == "" {
				if err := store.ClearCart(ctx, db, userID); err != nil {
					respondDomainError(w, logger, err)
					return
				}
				respondJSON(w, http.StatusOK, map[string]string{"message": "Cart cleared"})
				return
			}

			productID, err := strconv.ParseInt(productIDStr, 10, 64)
			if err != nil {
				respondError(w, http.StatusBadRequest, "Invalid product ID")
				return
			}

			if err := store.RemoveFromCart(ctx, db, userID, productID); err != nil {
				respondDomainError(w, logger, err)
				return
			}

			respondJSON(w, http.StatusOK, map[string]string{"message": "Removed from cart"})

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleOrders(db *sql.DB, engine *checkout.Engine, logger *slog.Logger) userHandler {
	return func(w http.ResponseWriter, r *http.Request, userID int64) {
		ctx := r.Context()

		switch r.Method {
		case http.MethodPost:
			var req struct {
				CheckoutKey  string `json:"checkout_key"`
				PaymentToken string `json:"payment_token"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			if req.CheckoutKey == "" {
				req.CheckoutKey = uuid.NewString()
			}
			if _, err := uuid.Parse(req.CheckoutKey); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid checkout key")
				return
			}

			order, err := engine.PlaceOrder(ctx, checkout.Request{
				UserID:       userID,
				CheckoutKey:  req.CheckoutKey,
				PaymentToken: req.PaymentToken,
			})
			if err != nil {
				var captureErr *payment.CaptureError
				if errors.As(err, &captureErr) {
					respondJSON(w, http.StatusPaymentRequired, map[string]interface{}{
						"error": captureErr.Message,
						"order": order,
					})
					return
				}
				respondDomainError(w, logger, err)
				return
			}

			respondJSON(w, http.StatusCreated, order)

		case http.MethodGet:
			orders, err := store.ListOrdersByUser(ctx, db, userID)
			if err != nil {
				respondDomainError(w, logger, err)
				return
			}

			respondJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleOrderInvoice(db *sql.DB, cfg *config.Config, logger *slog.Logger) userHandler {
	return func(w http.ResponseWriter, r *http.Request, userID int64) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/orders/")
		idStr, ok := strings.CutSuffix(path, "/invoice")
		if !ok {
			respondError(w, http.StatusNotFound, "Not found")
			return
		}

		orderID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid order ID")
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="`+invoice.FileName(orderID)+`"`)

		if err := invoice.Render(r.Context(), db, orderID, userID, cfg.Invoice.Dir, w); err != nil {
			// Headers may already be out; best effort status mapping.
			w.Header().Del("Content-Type")
			w.Header().Del("Content-Disposition")
			respondDomainError(w, logger, err)
			return
		}
	}
}

func respondDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var validationErr *auth.ValidationError
	switch {
	case errors.As(err, &validationErr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "Validation failed",
			"fields": validationErr.Fields,
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnprocessableEntity, "Invalid email or password")
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrInvalidResetToken):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "Unauthorized")
	case errors.Is(err, database.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "Cart is empty")
	default:
		logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
