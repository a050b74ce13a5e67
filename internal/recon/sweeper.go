package recon

import (
	"context"
	"database/sql"
	"log"

	"github.com/safar/go-order-recon/internal/metrics"
	"github.com/safar/go-order-recon/internal/store"
)

// sweepBatchSize bounds one sweep; anything left over is picked up by the
// next tick.
const sweepBatchSize = 500

// Sweeper cancels bank-transfer orders whose payment window lapsed without a
// matched transaction, releasing their reserved inventory. Re-runs and
// concurrent sweeps are harmless: the release path is guarded per order.
type Sweeper struct {
	db      *sql.DB
	metrics *metrics.ReconMetrics
}

func NewSweeper(db *sql.DB, m *metrics.ReconMetrics) *Sweeper {
	return &Sweeper{db: db, metrics: m}
}

// Run performs one sweep. One bad order is logged and skipped, never aborting
// the rest of the batch.
func (s *Sweeper) Run(ctx context.Context) {
	ids, err := store.ListLapsedReservations(ctx, s.db, sweepBatchSize)
	if err != nil {
		log.Printf("sweeper: list lapsed reservations: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	expired := 0
	for _, id := range ids {
		ok, err := store.ExpireOrder(ctx, s.db, id)
		if err != nil {
			s.metrics.SweepBatchErrors.Inc()
			log.Printf("sweeper: expire order %d: %v", id, err)
			continue
		}
		if ok {
			expired++
			s.metrics.ExpiredOrders.Inc()
		}
	}

	log.Printf("sweeper: expired %d of %d lapsed reservations", expired, len(ids))
}
