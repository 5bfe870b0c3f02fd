package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medisync/server/internal/repositories"
)

// SyncScheduler periodically drains the queues of every device with
// pending work. Passes for distinct devices run in parallel up to the
// worker limit; the per-device lock keeps passes for the same device
// from overlapping.
type SyncScheduler struct {
	syncs     *SyncService
	queueRepo repositories.SyncQueueRepository
	interval  time.Duration
	workers   int
	batchSize int

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewSyncScheduler(syncs *SyncService, queueRepo repositories.SyncQueueRepository, interval time.Duration, workers, batchSize int) *SyncScheduler {
	if workers <= 0 {
		workers = 4
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &SyncScheduler{
		syncs:     syncs,
		queueRepo: queueRepo,
		interval:  interval,
		workers:   workers,
		batchSize: batchSize,
	}
}

func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if s.stop != nil {
		return fmt.Errorf("scheduler is already running")
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}(s.stop, s.done)

	return nil
}

func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}

func (s *SyncScheduler) runOnce(ctx context.Context) {
	devices, err := s.queueRepo.ListDevicesWithPending(ctx)
	if err != nil {
		log.Printf("scheduler: failed to list devices with pending items: %v", err)
		return
	}
	if len(devices) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	opts := DefaultSyncOptions()
	opts.BatchSize = s.batchSize

	for _, d := range devices {
		d := d
		g.Go(func() error {
			result, err := s.syncs.SyncPendingActions(gctx, d.UserID, d.DeviceID, opts)
			if errors.Is(err, ErrSyncInProgress) {
				return nil
			}
			if err != nil {
				log.Printf("scheduler: sync pass for device %s failed: %v", d.DeviceID, err)
				return nil
			}
			if result.Processed > 0 {
				log.Printf("scheduler: device %s processed=%d succeeded=%d failed=%d conflicted=%d",
					d.DeviceID, result.Processed, result.Succeeded, result.Failed, result.Conflicted)
			}
			return nil
		})
	}

	// Workers swallow their own errors; Wait only bounds parallelism.
	_ = g.Wait()
}
