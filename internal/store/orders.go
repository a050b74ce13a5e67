package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-order-recon/internal/config"
	"github.com/safar/go-order-recon/internal/database"
	"github.com/safar/go-order-recon/internal/models"
	"github.com/safar/go-order-recon/internal/reference"
	"github.com/shopspring/decimal"
)

// FactoryConfig carries the pricing rules and the bank-transfer reservation
// settings the factory stamps onto new orders.
type FactoryConfig struct {
	Pricing           config.PricingConfig
	ReservationWindow time.Duration
	BankAccount       string
}

type CreateOrderRequest struct {
	UserID          int64
	Items           []OrderLineRequest
	PaymentMethod   string
	ShippingAddress string
	Discount        decimal.Decimal
}

type OrderLineRequest struct {
	VariantID int64
	Quantity  int
}

// Totals is the money breakdown computed for a new order.
type Totals struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// ComputeTotals applies the pricing rules: tax is a flat rate on the subtotal,
// shipping is waived at or above the free threshold, and the grand total is
// clamped at zero so an oversized coupon can never produce a negative order.
func ComputeTotals(pricing config.PricingConfig, subtotal, discount decimal.Decimal) Totals {
	tax := subtotal.Mul(pricing.TaxRate).Round(2)

	shipping := pricing.ShippingFee
	if subtotal.GreaterThanOrEqual(pricing.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}

	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal:    subtotal,
		Tax:         tax,
		ShippingFee: shipping,
		Discount:    discount,
		Total:       total,
	}
}

// maxDailySequence caps the per-day allocator. The payment-code encoding
// packs day*100000+seq into one token, so a sequence past 99999 would widen
// the order number and collide with the next day's code range.
const maxDailySequence = 99999

// nextOrderNumber allocates the next per-day sequence inside the caller's
// transaction. The upsert makes same-day sequences unique and contiguous no
// matter how many creations race.
func nextOrderNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")

	var seq int
	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_sequences (day, last_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (day) DO UPDATE SET last_seq = order_sequences.last_seq + 1
		 RETURNING last_seq`,
		now.UTC().Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("allocate order sequence: %w", err)
	}
	if seq > maxDailySequence {
		return "", fmt.Errorf("daily order sequence exhausted for %s", day)
	}

	return fmt.Sprintf("ORD-%s-%05d", day, seq), nil
}

// CreateOrder builds an order from resolved cart lines, reserving inventory
// for every line inside one transaction. Either every line reserves or none
// do: any failure rolls back the earlier decrements together with the order
// rows.
func CreateOrder(ctx context.Context, db *sql.DB, cfg FactoryConfig, req CreateOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, database.ErrEmptyCart
	}
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("unknown payment method %q", req.PaymentMethod)
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for variant %d", line.Quantity, line.VariantID)
		}
	}

	var orderID int64

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		now := time.Now()

		subtotal := decimal.Zero
		snapshots := make([]*models.Variant, 0, len(req.Items))

		for _, line := range req.Items {
			variant, err := lockVariant(ctx, tx, line.VariantID)
			if err != nil {
				return err
			}
			if variant.Stock < line.Quantity {
				return fmt.Errorf("variant %d: %w", line.VariantID, database.ErrInsufficientStock)
			}

			snapshots = append(snapshots, variant)
			subtotal = subtotal.Add(variant.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		totals := ComputeTotals(cfg.Pricing, subtotal, req.Discount)

		orderNumber, err := nextOrderNumber(ctx, tx, now)
		if err != nil {
			return err
		}

		var bankAccount, paymentCode sql.NullString
		var expectedAmount decimal.NullDecimal
		var reservedUntil sql.NullTime
		if req.PaymentMethod == models.PaymentMethodBankTransfer {
			code, err := reference.FromOrderNumber(orderNumber)
			if err != nil {
				return fmt.Errorf("derive payment code: %w", err)
			}
			bankAccount = sql.NullString{String: cfg.BankAccount, Valid: true}
			paymentCode = sql.NullString{String: code, Valid: true}
			expectedAmount = decimal.NullDecimal{Decimal: totals.Total, Valid: true}
			reservedUntil = sql.NullTime{Time: now.Add(cfg.ReservationWindow), Valid: true}
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (order_number, user_id, status, payment_method, payment_status,
			                     subtotal, tax, shipping_fee, discount, total, shipping_address,
			                     bank_account, bank_expected_amount, payment_code, reserved_until,
			                     created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW(), 1)
			 RETURNING id`,
			orderNumber, req.UserID, models.OrderStatusPending, req.PaymentMethod, models.PaymentStatusPending,
			totals.Subtotal, totals.Tax, totals.ShippingFee, totals.Discount, totals.Total, req.ShippingAddress,
			bankAccount, expectedAmount, paymentCode, reservedUntil).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for i, line := range req.Items {
			variant := snapshots[i]
			lineSubtotal := variant.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))

			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, variant_id, product_name, product_slug, sku,
				                          image_url, attributes, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
				orderID, variant.ID, variant.ProductName, variant.ProductSlug, variant.SKU,
				variant.ImageURL, variant.Attributes, line.Quantity, variant.Price, lineSubtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}

			if err := ReserveStock(ctx, tx, line.VariantID, line.Quantity); err != nil {
				return fmt.Errorf("variant %d: %w", line.VariantID, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_status_history (order_id, status, note, changed_at)
			 VALUES ($1, $2, $3, NOW())`,
			orderID, models.OrderStatusPending, "order created")
		if err != nil {
			return fmt.Errorf("seed status history: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetOrder(ctx, db, orderID)
}

const orderColumns = `id, order_number, user_id, status, payment_method, payment_status,
	subtotal, tax, shipping_fee, discount, total, shipping_address,
	tracking_number, carrier, paid_at, shipped_at, delivered_at, cancelled_at,
	cancellation_reason, stock_released,
	bank_account, bank_expected_amount, payment_code, reserved_until,
	bank_transaction_id, bank_paid_amount, bank_code,
	created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}

	var paidAt, shippedAt, deliveredAt, cancelledAt, reservedUntil sql.NullTime
	var bankAccount, paymentCode, bankTransactionID, bankCode sql.NullString
	var expectedAmount, paidAmount decimal.NullDecimal

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Status,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.Subtotal,
		&order.Tax,
		&order.ShippingFee,
		&order.Discount,
		&order.Total,
		&order.ShippingAddress,
		&order.TrackingNumber,
		&order.Carrier,
		&paidAt,
		&shippedAt,
		&deliveredAt,
		&cancelledAt,
		&order.CancellationReason,
		&order.StockReleased,
		&bankAccount,
		&expectedAmount,
		&paymentCode,
		&reservedUntil,
		&bankTransactionID,
		&paidAmount,
		&bankCode,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	order.PaidAt = timePtr(paidAt)
	order.ShippedAt = timePtr(shippedAt)
	order.DeliveredAt = timePtr(deliveredAt)
	order.CancelledAt = timePtr(cancelledAt)

	if order.PaymentMethod == models.PaymentMethodBankTransfer && reservedUntil.Valid {
		order.BankTransfer = &models.BankTransfer{
			AccountNumber:  bankAccount.String,
			ExpectedAmount: expectedAmount.Decimal,
			PaymentCode:    paymentCode.String,
			ReservedUntil:  reservedUntil.Time,
			TransactionID:  bankTransactionID.String,
			PaidAmount:     paidAmount.Decimal,
			PaidAt:         timePtr(paidAt),
			BankCode:       bankCode.String,
		}
	}

	return order, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := loadOrderDetails(ctx, db, order); err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrderByNumber(ctx context.Context, db *sql.DB, orderNumber string) (*models.Order, error) {
	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}

	if err := loadOrderDetails(ctx, db, order); err != nil {
		return nil, err
	}

	return order, nil
}

func loadOrderDetails(ctx context.Context, db *sql.DB, order *models.Order) error {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, variant_id, product_name, product_slug, sku, image_url, attributes,
		        quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.VariantID,
			&item.ProductName,
			&item.ProductSlug,
			&item.SKU,
			&item.ImageURL,
			&item.Attributes,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	order.Items = items

	historyRows, err := db.QueryContext(ctx,
		`SELECT id, order_id, status, note, changed_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY changed_at, id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("get status history: %w", err)
	}
	defer historyRows.Close()

	var history []models.StatusRecord
	for historyRows.Next() {
		var record models.StatusRecord
		err := historyRows.Scan(
			&record.ID,
			&record.OrderID,
			&record.Status,
			&record.Note,
			&record.ChangedAt,
		)
		if err != nil {
			return fmt.Errorf("scan status record: %w", err)
		}
		history = append(history, record)
	}
	if err := historyRows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	order.History = history

	return nil
}

// ListOrdersCursor pages through all orders newest first for the admin
// surface, keyed on (created_at, id) so inserts never shift pages.
func ListOrdersCursor(ctx context.Context, db *sql.DB, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE (created_at, id) < ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	rows, err := db.QueryContext(ctx, query, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
