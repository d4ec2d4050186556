package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hookline/internal/config"
	"hookline/internal/storage"
)

// Pool polls for due deliveries and runs them on a bounded set of workers.
// Ordering between deliveries is not guaranteed; each delivery is
// independent.
type Pool struct {
	store    storage.Storage
	worker   *Worker
	workers  int
	pollRate time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewPool(cfg config.DeliveryConfig, store storage.Storage, sender *Sender, log zerolog.Logger) *Pool {
	worker := NewWorker(store, sender, cfg.MaxAttempts, cfg.BackoffBase, cfg.BackoffCap, log)

	return &Pool{
		store:    store,
		worker:   worker,
		workers:  cfg.Workers,
		pollRate: 1 * time.Second,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("starting delivery worker pool")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()
}

func (p *Pool) Stop() {
	p.log.Info().Msg("stopping delivery worker pool")
	close(p.stop)
	p.wg.Wait()
	p.log.Info().Msg("delivery worker pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	sem := make(chan struct{}, p.workers)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			deliveries, err := p.store.ClaimPendingDeliveries(ctx, p.workers)
			if err != nil {
				p.log.Error().Err(err).Msg("failed to claim pending deliveries")
				continue
			}

			for _, d := range deliveries {
				d := d
				sem <- struct{}{}
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					defer func() { <-sem }()
					p.worker.Process(ctx, d)
				}()
			}
		}
	}
}
