// Package recon runs the periodic reconciliation jobs: the transaction feed
// poller and the expiration sweeper.
package recon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/safar/go-order-recon/internal/config"
)

// Scheduler owns the cron instance and its jobs. It is constructed, started
// and stopped by the process entry point; there is no package-level state.
type Scheduler struct {
	cron    *cron.Cron
	poller  *Poller
	sweeper *Sweeper
}

func NewScheduler(cfg config.ReconConfig, poller *Poller, sweeper *Sweeper) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		poller:  poller,
		sweeper: sweeper,
	}

	jobTimeout := 5 * time.Minute

	_, err := s.cron.AddFunc(every(cfg.PollInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		s.poller.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("register poll job: %w", err)
	}

	_, err = s.cron.AddFunc(every(cfg.SweepInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		s.sweeper.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("register sweep job: %w", err)
	}

	return s, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("recon scheduler started")
}

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Printf("recon scheduler stopped")
	case <-ctx.Done():
		log.Printf("recon scheduler forced to stop: %v", ctx.Err())
	}
}
