package bank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("account"); got != "0123456789" {
			t.Errorf("unexpected account %q", got)
		}
		if r.URL.Query().Get("from") == "" || r.URL.Query().Get("to") == "" {
			t.Error("expected from/to window parameters")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transactions": [
			{"transactionId": "FT1", "amount": 100000, "description": "PAYABCDEF12", "creditDebit": "CREDIT", "status": "SUCCESS"},
			{"transactionId": "FT2", "amount": 50000, "creditDebit": "DEBIT"},
			{"amount": 1, "creditDebit": "CREDIT"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "0123456789")

	now := time.Now()
	transactions, dropped, err := client.FetchTransactions(context.Background(), now.Add(-30*time.Minute), now)
	if err != nil {
		t.Fatalf("FetchTransactions: %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped entry (missing id), got %d", dropped)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(transactions))
	}
	if !transactions[0].Credit {
		t.Error("FT1 should be a credit")
	}
	if transactions[1].Credit {
		t.Error("FT2 should not be a credit")
	}
}

func TestFetchTransactionsFeedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "0123456789")

	now := time.Now()
	if _, _, err := client.FetchTransactions(context.Background(), now.Add(-time.Hour), now); err == nil {
		t.Error("expected error on non-200 feed response")
	}
}

func TestClientDisabled(t *testing.T) {
	if NewClient("", "acct").Enabled() {
		t.Error("client with no feed URL should be disabled")
	}
	if !NewClient("http://feed", "acct").Enabled() {
		t.Error("client with feed URL should be enabled")
	}
}
