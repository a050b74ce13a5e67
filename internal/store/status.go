package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-order-recon/internal/database"
	"github.com/safar/go-order-recon/internal/models"
)

// transitions is the full status graph. Anything not listed here is an
// invalid transition, including every move out of a terminal status.
var transitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
	models.OrderStatusDelivered:  {models.OrderStatusRefunded},
}

func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionOptions carries the shipment fields an admin may attach when
// moving an order to shipped.
type TransitionOptions struct {
	TrackingNumber string
	Carrier        string
}

// Transition validates and applies a status change, appending to the audit
// history. Timestamps are set the first time their status is reached and
// never overwritten. Cancelling releases the order's reserved inventory
// exactly once; a second cancellation attempt reports ErrAlreadyCancelled
// without touching stock.
func Transition(ctx context.Context, db *sql.DB, orderID int64, newStatus, note string, opts *TransitionOptions) (*models.Order, error) {
	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrderStatus(ctx, tx, orderID)
		if err != nil {
			return err
		}
		return applyTransition(ctx, tx, orderID, current, newStatus, note, opts)
	})
	if err != nil {
		return nil, err
	}

	return GetOrder(ctx, db, orderID)
}

// lockOrderStatus row-locks the order and returns its current status, so the
// validate-then-write below cannot race a concurrent transition.
func lockOrderStatus(ctx context.Context, tx *sql.Tx, orderID int64) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
		orderID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", database.ErrOrderNotFound
		}
		return "", fmt.Errorf("lock order %d: %w", orderID, err)
	}
	return status, nil
}

func applyTransition(ctx context.Context, tx *sql.Tx, orderID int64, current, newStatus, note string, opts *TransitionOptions) error {
	if current == models.OrderStatusCancelled && newStatus == models.OrderStatusCancelled {
		return database.ErrAlreadyCancelled
	}
	if !CanTransition(current, newStatus) {
		return fmt.Errorf("%s -> %s: %w", current, newStatus, database.ErrInvalidTransition)
	}

	var err error
	switch newStatus {
	case models.OrderStatusShipped:
		tracking, carrier := "", ""
		if opts != nil {
			tracking, carrier = opts.TrackingNumber, opts.Carrier
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $2,
			     tracking_number = CASE WHEN $3 <> '' THEN $3 ELSE tracking_number END,
			     carrier = CASE WHEN $4 <> '' THEN $4 ELSE carrier END,
			     shipped_at = COALESCE(shipped_at, NOW()),
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $1`,
			orderID, newStatus, tracking, carrier)

	case models.OrderStatusDelivered:
		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $2,
			     delivered_at = COALESCE(delivered_at, NOW()),
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $1`,
			orderID, newStatus)

	case models.OrderStatusCancelled:
		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $2,
			     cancelled_at = COALESCE(cancelled_at, NOW()),
			     cancellation_reason = CASE WHEN cancellation_reason = '' THEN $3 ELSE cancellation_reason END,
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $1`,
			orderID, newStatus, note)
		if err == nil {
			_, err2 := releaseOrderStock(ctx, tx, orderID)
			err = err2
		}

	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $2,
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $1`,
			orderID, newStatus)
	}
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO order_status_history (order_id, status, note, changed_at)
		 VALUES ($1, $2, $3, NOW())`,
		orderID, newStatus, note)
	if err != nil {
		return fmt.Errorf("append status history: %w", err)
	}

	return nil
}

// releaseOrderStock flips the order's stock_released flag and returns the
// reserved units to their variants. The conditional flip is the exactly-once
// guard: a cancel racing a sweep sees zero rows affected and leaves the
// counters alone.
func releaseOrderStock(ctx context.Context, tx *sql.Tx, orderID int64) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET stock_released = TRUE WHERE id = $1 AND stock_released = FALSE`,
		orderID)
	if err != nil {
		return false, fmt.Errorf("mark stock released: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT variant_id, quantity FROM order_items WHERE order_id = $1`,
		orderID)
	if err != nil {
		return false, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	type line struct {
		variantID int64
		quantity  int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.variantID, &l.quantity); err != nil {
			return false, fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("rows error: %w", err)
	}

	for _, l := range lines {
		if err := ReleaseStock(ctx, tx, l.variantID, l.quantity); err != nil {
			return false, err
		}
	}

	return true, nil
}

// MarkPaymentRefunded records the payment-side bookkeeping for an admin
// refund. The money movement itself happens outside this core.
func MarkPaymentRefunded(ctx context.Context, db *sql.DB, orderID int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var paymentStatus string
		err := tx.QueryRowContext(ctx,
			`SELECT payment_status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&paymentStatus)
		if err == sql.ErrNoRows {
			return database.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}
		if paymentStatus != models.PaymentStatusPaid {
			return fmt.Errorf("order %d: %w", orderID, database.ErrNotPaid)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET payment_status = $2,
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $1`,
			orderID, models.PaymentStatusRefunded)
		if err != nil {
			return fmt.Errorf("mark payment refunded: %w", err)
		}
		return nil
	})
}
