// Package bank holds the boundary types for the two reconciliation ingress
// paths: the push webhook and the pull transaction feed. Payloads are decoded
// into fixed, validated structs here; nothing dynamic reaches the matcher.
package bank

import (
	"fmt"
	"strings"
	"time"

	"github.com/safar/go-order-recon/internal/store"
	"github.com/shopspring/decimal"
)

// Notification is the inbound payload shape shared by the webhook body and
// the feed's transaction entries.
type Notification struct {
	TransactionID   string          `json:"transactionId"`
	AccountNumber   string          `json:"accountNumber"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	TransactionDate string          `json:"transactionDate"`
	CreditDebit     string          `json:"creditDebit"`
	Status          string          `json:"status"`
	BankCode        string          `json:"bankCode"`
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Normalize validates the payload and converts it into the matcher's
// transaction shape. Debits and non-successful entries come back with
// Credit=false so the matcher skips them.
func (n Notification) Normalize() (store.BankTransaction, error) {
	if n.TransactionID == "" {
		return store.BankTransaction{}, fmt.Errorf("missing transactionId")
	}
	if n.Amount.IsNegative() {
		return store.BankTransaction{}, fmt.Errorf("negative amount %s", n.Amount)
	}

	occurredAt := time.Now()
	if n.TransactionDate != "" {
		parsed, err := parseDate(n.TransactionDate)
		if err != nil {
			return store.BankTransaction{}, fmt.Errorf("malformed transactionDate %q: %w", n.TransactionDate, err)
		}
		occurredAt = parsed
	}

	credit := strings.EqualFold(n.CreditDebit, "CREDIT")
	if n.Status != "" && !strings.EqualFold(n.Status, "SUCCESS") {
		credit = false
	}

	return store.BankTransaction{
		TransactionID: n.TransactionID,
		Amount:        n.Amount,
		Memo:          n.Description,
		BankCode:      n.BankCode,
		OccurredAt:    occurredAt,
		Credit:        credit,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
