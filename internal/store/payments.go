package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-order-recon/internal/database"
	"github.com/safar/go-order-recon/internal/models"
	"github.com/safar/go-order-recon/internal/reference"
	"github.com/shopspring/decimal"
)

// BankTransaction is a raw transaction normalized at the driver boundary.
// Both the webhook receiver and the feed poller produce this shape.
type BankTransaction struct {
	TransactionID string
	Amount        decimal.Decimal
	Memo          string
	BankCode      string
	OccurredAt    time.Time
	Credit        bool
}

// MatchResult is the business outcome of feeding one transaction through the
// matcher. Only Matched mutates an order; everything else is a recorded
// no-op.
type MatchResult string

const (
	MatchSkipped        MatchResult = "skipped"
	MatchDuplicate      MatchResult = "duplicate"
	MatchNoReference    MatchResult = "no_reference"
	MatchOrderNotFound  MatchResult = "order_not_found"
	MatchAlreadyPaid    MatchResult = "already_paid"
	MatchOrderCancelled MatchResult = "order_cancelled"
	MatchExpired        MatchResult = "expired"
	MatchAmountMismatch MatchResult = "amount_mismatch"
	Matched             MatchResult = "matched"
)

type MatcherConfig struct {
	// RequireExactAmount rejects any transfer that is not exactly the order
	// total. When false (the default), an overpayment still marks the order
	// paid and the actual amount lands in bank_paid_amount for manual review;
	// underpayments are always rejected.
	RequireExactAmount bool
}

// ApplyBankTransaction resolves a raw transaction to at most one pending
// order and marks it paid, exactly once. The unique transaction-id insert and
// the conditional mark-paid update make the whole match idempotent: replays
// from either driver, in any order, report Duplicate or AlreadyPaid without
// double-crediting.
func ApplyBankTransaction(ctx context.Context, db *sql.DB, cfg MatcherConfig, txn BankTransaction) (MatchResult, error) {
	if !txn.Credit {
		return MatchSkipped, nil
	}
	if txn.TransactionID == "" {
		return "", fmt.Errorf("transaction has no id")
	}

	result := MatchSkipped

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var ingestID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO bank_transactions (transaction_id, amount, memo, bank_code, occurred_at, result)
			 VALUES ($1, $2, $3, $4, $5, '')
			 ON CONFLICT (transaction_id) DO NOTHING
			 RETURNING id`,
			txn.TransactionID, txn.Amount, txn.Memo, txn.BankCode, txn.OccurredAt).Scan(&ingestID)
		if err == sql.ErrNoRows {
			result = MatchDuplicate
			return nil
		}
		if err != nil {
			return fmt.Errorf("record bank transaction: %w", err)
		}

		code, ok := reference.FromMemo(txn.Memo)
		if !ok {
			result = MatchNoReference
			return setIngestResult(ctx, tx, ingestID, result, 0)
		}

		var orderID int64
		var status, paymentStatus string
		var total decimal.Decimal
		var reservedUntil sql.NullTime
		err = tx.QueryRowContext(ctx,
			`SELECT id, status, payment_status, total, reserved_until
			 FROM orders
			 WHERE payment_code = $1
			 FOR UPDATE`,
			code).Scan(&orderID, &status, &paymentStatus, &total, &reservedUntil)
		if err == sql.ErrNoRows {
			result = MatchOrderNotFound
			return setIngestResult(ctx, tx, ingestID, result, 0)
		}
		if err != nil {
			return fmt.Errorf("resolve order by payment code: %w", err)
		}

		if paymentStatus == models.PaymentStatusPaid {
			result = MatchAlreadyPaid
			return setIngestResult(ctx, tx, ingestID, result, orderID)
		}
		if status == models.OrderStatusCancelled || status == models.OrderStatusRefunded {
			// Cancelled while the transfer was in flight: the cancel path has
			// already released the stock, so a late transaction must not
			// resurrect the order. The ingest row keeps the money visible for
			// manual reconciliation.
			result = MatchOrderCancelled
			return setIngestResult(ctx, tx, ingestID, result, orderID)
		}
		if paymentStatus != models.PaymentStatusPending ||
			(reservedUntil.Valid && time.Now().After(reservedUntil.Time)) {
			// Lapsed reservation: never confirmable by a late transaction.
			// The sweeper owns cancellation so both paths share one release.
			result = MatchExpired
			return setIngestResult(ctx, tx, ingestID, result, orderID)
		}

		acceptable := txn.Amount.Equal(total)
		if !cfg.RequireExactAmount {
			acceptable = txn.Amount.GreaterThanOrEqual(total)
		}
		if !acceptable {
			result = MatchAmountMismatch
			return setIngestResult(ctx, tx, ingestID, result, orderID)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE orders
			 SET payment_status = $2,
			     bank_transaction_id = $3,
			     bank_paid_amount = $4,
			     bank_code = $5,
			     paid_at = NOW(),
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $1
			   AND payment_status = $6`,
			orderID, models.PaymentStatusPaid, txn.TransactionID, txn.Amount, txn.BankCode,
			models.PaymentStatusPending)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			result = MatchAlreadyPaid
			return setIngestResult(ctx, tx, ingestID, result, orderID)
		}

		if status == models.OrderStatusPending {
			if err := applyTransition(ctx, tx, orderID, status, models.OrderStatusProcessing, "payment received", nil); err != nil {
				return err
			}
		}

		result = Matched
		return setIngestResult(ctx, tx, ingestID, result, orderID)
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

func setIngestResult(ctx context.Context, tx *sql.Tx, ingestID int64, result MatchResult, orderID int64) error {
	var order sql.NullInt64
	if orderID != 0 {
		order = sql.NullInt64{Int64: orderID, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE bank_transactions SET result = $2, order_id = $3 WHERE id = $1`,
		ingestID, string(result), order)
	if err != nil {
		return fmt.Errorf("record match result: %w", err)
	}
	return nil
}
