package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-recon/internal/bank"
	"github.com/safar/go-order-recon/internal/config"
	"github.com/safar/go-order-recon/internal/metrics"
)

// One registry-backed metrics instance for the whole package; registering
// twice panics.
var testMetrics = metrics.NewReconMetrics()

func testServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Bank: config.BankConfig{
			AccountNumber: "0123456789",
			WebhookSecret: "test-secret",
		},
		Admin: config.AdminConfig{APIKey: "admin-key"},
	}
	return NewServer(nil, cfg, testMetrics)
}

func TestBankWebhookRejectsBadSignature(t *testing.T) {
	router := testServer(t).Router()

	body := `{"transactionId": "FT1", "amount": 1000, "creditDebit": "CREDIT"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank", strings.NewReader(body))
	req.Header.Set(bank.SignatureHeader, "deadbeef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/bank", strings.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: status = %d, want 401", w.Code)
	}
}

func TestBankWebhookRejectsMalformedPayload(t *testing.T) {
	router := testServer(t).Router()

	body := `{"transactionId": `
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank", strings.NewReader(body))
	req.Header.Set(bank.SignatureHeader, bank.Sign("test-secret", []byte(body)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestBankWebhookRejectsInvalidNotification(t *testing.T) {
	router := testServer(t).Router()

	// Well-formed JSON, but no transaction id.
	body := `{"amount": 1000, "creditDebit": "CREDIT"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank", strings.NewReader(body))
	req.Header.Set(bank.SignatureHeader, bank.Sign("test-secret", []byte(body)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestBankWebhookAcknowledgesSkippedDebit(t *testing.T) {
	router := testServer(t).Router()

	// Debits are skipped before any database work, so a nil db is fine here.
	body := `{"transactionId": "FT1", "amount": 1000, "creditDebit": "DEBIT"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank", strings.NewReader(body))
	req.Header.Set(bank.SignatureHeader, bank.Sign("test-secret", []byte(body)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "skipped") {
		t.Errorf("body = %s, want skipped result", w.Body.String())
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	router := testServer(t).Router()

	body := `{"status": "teleported"}`
	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ORD-20250101-00001/status", strings.NewReader(body))
	req.Header.Set("X-Admin-Key", "admin-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAdminSurfaceRequiresKey(t *testing.T) {
	router := testServer(t).Router()

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("no key: status = %d, want 403", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong key: status = %d, want 403", w.Code)
	}
}

func TestAdminSurfaceClosedWhenUnconfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(nil, &config.Config{}, testMetrics)
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("X-Admin-Key", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 with no configured key", w.Code)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	router := testServer(t).Router()

	cases := []struct {
		name string
		body string
	}{
		{"missing payment method", `{"user_id": 1, "items": [{"variant_id": 1, "quantity": 1}]}`},
		{"zero quantity", `{"user_id": 1, "payment_method": "cod", "items": [{"variant_id": 1, "quantity": 0}]}`},
		{"unknown payment method", `{"user_id": 1, "payment_method": "barter", "items": [{"variant_id": 1, "quantity": 1}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}
