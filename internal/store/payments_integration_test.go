package store

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/safar/go-order-recon/internal/models"
	"github.com/safar/go-order-recon/internal/reference"
	"github.com/shopspring/decimal"
)

func createBankOrder(t *testing.T, db *sql.DB, sku string, price int64, qty int) *models.Order {
	t.Helper()
	variant := createTestVariant(t, db, sku, price, qty+5)
	order, err := CreateOrder(context.Background(), db, testFactory(20*time.Minute), CreateOrderRequest{
		UserID:        1,
		Items:         []OrderLineRequest{{VariantID: variant.ID, Quantity: qty}},
		PaymentMethod: models.PaymentMethodBankTransfer,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func bankTxnFor(t *testing.T, order *models.Order, txnID string) BankTransaction {
	t.Helper()
	if order.BankTransfer == nil {
		t.Fatal("order has no bank transfer details")
	}
	return BankTransaction{
		TransactionID: txnID,
		Amount:        order.Total,
		Memo:          reference.Memo(order.BankTransfer.PaymentCode) + " chuyen khoan",
		BankCode:      "VCB",
		OccurredAt:    time.Now(),
		Credit:        true,
	}
}

func forceLapse(t *testing.T, db *sql.DB, orderID int64) {
	t.Helper()
	if _, err := db.Exec(
		`UPDATE orders SET reserved_until = NOW() - INTERVAL '1 minute' WHERE id = $1`,
		orderID); err != nil {
		t.Fatalf("force lapse: %v", err)
	}
}

func TestApplyBankTransactionMatches(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createBankOrder(t, db, "TEE-01", 50000, 2)

	result, err := ApplyBankTransaction(ctx, db, MatcherConfig{}, bankTxnFor(t, order, "FT001"))
	if err != nil {
		t.Fatalf("ApplyBankTransaction: %v", err)
	}
	if result != Matched {
		t.Fatalf("result = %s, want matched", result)
	}

	updated, err := GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if updated.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("payment_status = %s, want paid", updated.PaymentStatus)
	}
	if updated.Status != models.OrderStatusProcessing {
		t.Errorf("status = %s, want processing", updated.Status)
	}
	if updated.PaidAt == nil {
		t.Error("paid_at should be set")
	}
	if updated.BankTransfer.TransactionID != "FT001" {
		t.Errorf("transaction id = %s, want FT001", updated.BankTransfer.TransactionID)
	}
	if !updated.BankTransfer.PaidAmount.Equal(order.Total) {
		t.Errorf("paid amount = %s, want %s", updated.BankTransfer.PaidAmount, order.Total)
	}

	last := updated.History[len(updated.History)-1]
	if last.Status != models.OrderStatusProcessing {
		t.Errorf("last history status = %s, want processing", last.Status)
	}
}

func TestApplyBankTransactionReplayIsIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createBankOrder(t, db, "TEE-02", 50000, 1)
	txn := bankTxnFor(t, order, "FT002")

	if result, err := ApplyBankTransaction(ctx, db, MatcherConfig{}, txn); err != nil || result != Matched {
		t.Fatalf("first apply = %s, %v; want matched", result, err)
	}

	paidOnce, err := GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}

	// Same transaction replayed, e.g. webhook retry after the poller already
	// picked it up.
	result, err := ApplyBankTransaction(ctx, db, MatcherConfig{}, txn)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result != MatchDuplicate {
		t.Errorf("replay result = %s, want duplicate", result)
	}

	// A different transaction carrying the same payment code.
	second := txn
	second.TransactionID = "FT003"
	result, err = ApplyBankTransaction(ctx, db, MatcherConfig{}, second)
	if err != nil {
		t.Fatalf("second transaction: %v", err)
	}
	if result != MatchAlreadyPaid {
		t.Errorf("second transaction result = %s, want already_paid", result)
	}

	after, err := GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if after.BankTransfer.TransactionID != "FT002" {
		t.Errorf("transaction id = %s, first match must stick", after.BankTransfer.TransactionID)
	}
	if !after.PaidAt.Equal(*paidOnce.PaidAt) {
		t.Error("paid_at changed on replay")
	}
	if len(after.History) != len(paidOnce.History) {
		t.Errorf("history grew from %d to %d on replay", len(paidOnce.History), len(after.History))
	}
}

func TestApplyBankTransactionNoReference(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	result, err := ApplyBankTransaction(context.Background(), db, MatcherConfig{}, BankTransaction{
		TransactionID: "FT010",
		Amount:        decimal.NewFromInt(100000),
		Memo:          "lunch money",
		OccurredAt:    time.Now(),
		Credit:        true,
	})
	if err != nil {
		t.Fatalf("ApplyBankTransaction: %v", err)
	}
	if result != MatchNoReference {
		t.Errorf("result = %s, want no_reference", result)
	}
}

func TestApplyBankTransactionOrderNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	result, err := ApplyBankTransaction(context.Background(), db, MatcherConfig{}, BankTransaction{
		TransactionID: "FT011",
		Amount:        decimal.NewFromInt(100000),
		Memo:          reference.Memo("0000ZZZZ"),
		OccurredAt:    time.Now(),
		Credit:        true,
	})
	if err != nil {
		t.Fatalf("ApplyBankTransaction: %v", err)
	}
	if result != MatchOrderNotFound {
		t.Errorf("result = %s, want order_not_found", result)
	}
}

func TestApplyBankTransactionMissingID(t *testing.T) {
	// Rejected before any database work; Skipped is reserved for deliberate
	// no-ops.
	result, err := ApplyBankTransaction(context.Background(), nil, MatcherConfig{}, BankTransaction{
		Amount: decimal.NewFromInt(100000),
		Credit: true,
	})
	if err == nil {
		t.Fatal("expected error for missing transaction id")
	}
	if result != "" {
		t.Errorf("result = %q, want zero value on error", result)
	}
}

func TestApplyBankTransactionSkipsNonCredit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	result, err := ApplyBankTransaction(context.Background(), db, MatcherConfig{}, BankTransaction{
		TransactionID: "FT012",
		Amount:        decimal.NewFromInt(100000),
		Credit:        false,
	})
	if err != nil {
		t.Fatalf("ApplyBankTransaction: %v", err)
	}
	if result != MatchSkipped {
		t.Errorf("result = %s, want skipped", result)
	}

	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM bank_transactions`).Scan(&rows); err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if rows != 0 {
		t.Errorf("non-credit transaction should not be recorded, found %d rows", rows)
	}
}

func TestApplyBankTransactionAmountPolicy(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("underpayment rejected", func(t *testing.T) {
		order := createBankOrder(t, db, "AMT-01", 50000, 1)
		txn := bankTxnFor(t, order, "FT020")
		txn.Amount = order.Total.Sub(decimal.NewFromInt(1000))

		result, err := ApplyBankTransaction(ctx, db, MatcherConfig{}, txn)
		if err != nil {
			t.Fatalf("ApplyBankTransaction: %v", err)
		}
		if result != MatchAmountMismatch {
			t.Errorf("result = %s, want amount_mismatch", result)
		}

		updated, _ := GetOrder(ctx, db, order.ID)
		if updated.PaymentStatus != models.PaymentStatusPending {
			t.Errorf("payment_status = %s, underpayment must not confirm", updated.PaymentStatus)
		}
	})

	t.Run("overpayment accepted by default", func(t *testing.T) {
		order := createBankOrder(t, db, "AMT-02", 50000, 1)
		txn := bankTxnFor(t, order, "FT021")
		txn.Amount = order.Total.Add(decimal.NewFromInt(5000))

		result, err := ApplyBankTransaction(ctx, db, MatcherConfig{}, txn)
		if err != nil {
			t.Fatalf("ApplyBankTransaction: %v", err)
		}
		if result != Matched {
			t.Errorf("result = %s, want matched", result)
		}

		updated, _ := GetOrder(ctx, db, order.ID)
		if !updated.BankTransfer.PaidAmount.Equal(txn.Amount) {
			t.Errorf("paid amount = %s, want actual %s", updated.BankTransfer.PaidAmount, txn.Amount)
		}
	})

	t.Run("overpayment rejected in exact mode", func(t *testing.T) {
		order := createBankOrder(t, db, "AMT-03", 50000, 1)
		txn := bankTxnFor(t, order, "FT022")
		txn.Amount = order.Total.Add(decimal.NewFromInt(5000))

		result, err := ApplyBankTransaction(ctx, db, MatcherConfig{RequireExactAmount: true}, txn)
		if err != nil {
			t.Fatalf("ApplyBankTransaction: %v", err)
		}
		if result != MatchAmountMismatch {
			t.Errorf("result = %s, want amount_mismatch in exact mode", result)
		}
	})
}

func TestApplyBankTransactionExpiredReservation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createBankOrder(t, db, "EXP-01", 50000, 1)
	forceLapse(t, db, order.ID)

	result, err := ApplyBankTransaction(ctx, db, MatcherConfig{}, bankTxnFor(t, order, "FT030"))
	if err != nil {
		t.Fatalf("ApplyBankTransaction: %v", err)
	}
	if result != MatchExpired {
		t.Errorf("result = %s, want expired", result)
	}

	updated, _ := GetOrder(ctx, db, order.ID)
	if updated.PaymentStatus == models.PaymentStatusPaid {
		t.Error("late transaction must not confirm a lapsed reservation")
	}
}

func TestApplyBankTransactionConcurrentReplay(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createBankOrder(t, db, "RACE-01", 50000, 1)
	txn := bankTxnFor(t, order, "FT040")

	// Webhook and poller race on the same transaction.
	var wg sync.WaitGroup
	results := make(chan MatchResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := ApplyBankTransaction(ctx, db, MatcherConfig{}, txn)
			if err != nil {
				t.Errorf("ApplyBankTransaction: %v", err)
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	matched, duplicate := 0, 0
	for result := range results {
		switch result {
		case Matched:
			matched++
		case MatchDuplicate, MatchAlreadyPaid:
			duplicate++
		default:
			t.Errorf("unexpected result %s", result)
		}
	}
	if matched != 1 {
		t.Errorf("matched %d times, want exactly 1", matched)
	}

	updated, _ := GetOrder(ctx, db, order.ID)
	if updated.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("payment_status = %s, want paid", updated.PaymentStatus)
	}
}
