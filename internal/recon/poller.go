package recon

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/safar/go-order-recon/internal/bank"
	"github.com/safar/go-order-recon/internal/metrics"
	"github.com/safar/go-order-recon/internal/store"
)

// Poller is the pull-style reconciliation driver: every tick it fetches the
// trailing window of the merchant account's transactions and feeds each one
// through the matcher. It is safe to run alongside the webhook receiver
// because all idempotency lives in the matcher.
type Poller struct {
	db      *sql.DB
	client  *bank.Client
	matcher store.MatcherConfig
	window  time.Duration
	metrics *metrics.ReconMetrics
}

func NewPoller(db *sql.DB, client *bank.Client, matcher store.MatcherConfig, window time.Duration, m *metrics.ReconMetrics) *Poller {
	return &Poller{
		db:      db,
		client:  client,
		matcher: matcher,
		window:  window,
		metrics: m,
	}
}

// Run performs one poll. A fetch failure is logged and left for the next
// tick; a single transaction's failure never stops the rest of the batch.
func (p *Poller) Run(ctx context.Context) {
	if !p.client.Enabled() {
		return
	}

	now := time.Now()
	transactions, dropped, err := p.client.FetchTransactions(ctx, now.Add(-p.window), now)
	if err != nil {
		p.metrics.FeedFetchErrors.Inc()
		log.Printf("poller: fetch transactions: %v", err)
		return
	}
	if dropped > 0 {
		log.Printf("poller: dropped %d malformed feed entries", dropped)
	}

	for _, txn := range transactions {
		result, err := store.ApplyBankTransaction(ctx, p.db, p.matcher, txn)
		if err != nil {
			log.Printf("poller: apply transaction %s: %v", txn.TransactionID, err)
			continue
		}
		p.metrics.Transactions.WithLabelValues("poller", string(result)).Inc()
		if result == store.Matched {
			log.Printf("poller: matched transaction %s", txn.TransactionID)
		}
	}
}
