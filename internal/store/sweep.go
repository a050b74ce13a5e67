package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-order-recon/internal/database"
	"github.com/safar/go-order-recon/internal/models"
)

// ListLapsedReservations returns bank-transfer orders whose payment window
// has passed while still unpaid. The predicate is the same one the matcher
// checks lazily, so both paths agree on what "expired" means.
func ListLapsedReservations(ctx context.Context, db *sql.DB, limit int) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id
		 FROM orders
		 WHERE payment_method = $1
		   AND payment_status = $2
		   AND reserved_until < NOW()
		 ORDER BY reserved_until
		 LIMIT $3`,
		models.PaymentMethodBankTransfer, models.PaymentStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list lapsed reservations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// ExpireOrder cancels one lapsed reservation: payment_status becomes expired,
// the order is cancelled with a "payment window expired" note and its stock
// released through the guarded release path. Returns false when the order no
// longer qualifies (paid in the meantime, already expired by a concurrent
// sweep, or currently locked by another worker) — re-runs are stock-neutral.
func ExpireOrder(ctx context.Context, db *sql.DB, orderID int64) (bool, error) {
	expired := false

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var status, paymentStatus string
		var reservedUntil sql.NullTime

		// SKIP LOCKED keeps concurrent sweeps and in-flight matches from
		// stalling the batch; the skipped order is re-examined next tick.
		err := tx.QueryRowContext(ctx,
			`SELECT status, payment_status, reserved_until
			 FROM orders
			 WHERE id = $1
			 FOR UPDATE SKIP LOCKED`,
			orderID).Scan(&status, &paymentStatus, &reservedUntil)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}

		if paymentStatus != models.PaymentStatusPending ||
			!reservedUntil.Valid || time.Now().Before(reservedUntil.Time) {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET payment_status = $2,
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $1`,
			orderID, models.PaymentStatusExpired)
		if err != nil {
			return fmt.Errorf("mark payment expired: %w", err)
		}

		if status == models.OrderStatusCancelled {
			// Already cancelled through the admin path; stock was released
			// there, only the payment bookkeeping was still open.
			expired = true
			return nil
		}

		if err := applyTransition(ctx, tx, orderID, status, models.OrderStatusCancelled, "payment window expired", nil); err != nil {
			return err
		}

		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return expired, nil
}
