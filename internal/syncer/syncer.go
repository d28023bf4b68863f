package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/service"
)

// Syncer is the recurring worker driving the issuance pipeline. Each tick
// it asks ContractState for sync work and runs the pipeline in parallel
// across metering points, while all mutation for one GSRN stays
// serialized behind a per-key lock.
type Syncer struct {
	contractState *service.ContractState
	issuer        *service.Issuer

	interval       time.Duration
	thresholdHours int
	maxParallel    int

	locks  keyedMutex
	logger *zap.Logger
}

// Config holds syncer settings.
type Config struct {
	Interval                 time.Duration
	MinimumAgeThresholdHours int
	MaxParallel              int
}

// New creates a new syncer.
func New(contractState *service.ContractState, issuer *service.Issuer, cfg Config, logger *zap.Logger) *Syncer {
	return &Syncer{
		contractState:  contractState,
		issuer:         issuer,
		interval:       cfg.Interval,
		thresholdHours: cfg.MinimumAgeThresholdHours,
		maxParallel:    cfg.MaxParallel,
		logger:         logger,
	}
}

// Run ticks until the context is cancelled. Errors from a tick are logged
// and do not stop the loop; transient trouble heals on a later pass.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("syncer started",
		zap.Duration("interval", s.interval),
		zap.Int("max_parallel", s.maxParallel),
	)

	for {
		if err := s.RunOnce(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
			s.logger.Error("synchronization tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("syncer stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single synchronization tick at the given instant.
func (s *Syncer) RunOnce(ctx context.Context, now time.Time) error {
	infos, err := s.contractState.GetSyncInfos(ctx, now, s.thresholdHours)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return nil
	}

	byGSRN := groupByGSRN(infos)
	s.logger.Debug("synchronization tick",
		zap.Int("contracts", len(infos)),
		zap.Int("metering_points", len(byGSRN)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	for gsrn, work := range byGSRN {
		gsrn, work := gsrn, work
		g.Go(func() error {
			unlock := s.locks.lock(gsrn)
			defer unlock()
			for _, info := range work {
				if err := s.issuer.Synchronize(gctx, info, now, s.thresholdHours); err != nil {
					s.logger.Error("synchronization failed",
						zap.Error(err),
						zap.String("gsrn", gsrn),
					)
					// Keep going; other contracts of the point may still
					// progress and the next tick retries this one.
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// groupByGSRN buckets sync work per metering point, oldest contract
// first, so certificate periods come out in non-decreasing time order.
func groupByGSRN(infos []db.SyncInfo) map[string][]db.SyncInfo {
	byGSRN := make(map[string][]db.SyncInfo)
	for _, info := range infos {
		byGSRN[info.GSRN] = append(byGSRN[info.GSRN], info)
	}
	for _, work := range byGSRN {
		sort.Slice(work, func(a, b int) bool {
			return work[a].StartSyncDate.Before(work[b].StartSyncDate)
		})
	}
	return byGSRN
}

// keyedMutex serializes work per GSRN across overlapping ticks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
