package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/energyorigin/certificate-worker/internal/db"
)

// ContractState computes which metering points need a synchronization
// pass at a given instant. All time inputs are explicit parameters so the
// logic is deterministic under test.
type ContractState struct {
	store  Store
	logger *zap.Logger
}

// NewContractState creates a new contract state service.
func NewContractState(store Store, logger *zap.Logger) *ContractState {
	return &ContractState{store: store, logger: logger}
}

// GetSyncInfos returns one SyncInfo per contract that still has work owed
// at now, given the minimum-age hold-back in hours.
//
// A contract is skipped when it has not started yet. It stays in rotation
// while it is open-ended, while its end date has not aged past the
// threshold, while it has never been synchronized, or while its sliding
// window still owes missing intervals or has not caught up to the end
// date. Only a contract that ended, aged out and is fully reconciled is
// retired from the scan.
func (s *ContractState) GetSyncInfos(ctx context.Context, now time.Time, minimumAgeThresholdHours int) ([]db.SyncInfo, error) {
	contracts, err := s.store.GetAllContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}

	windows, err := s.store.GetAllSlidingWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sliding windows: %w", err)
	}
	windowByGSRN := make(map[string]db.SlidingWindow, len(windows))
	for _, w := range windows {
		windowByGSRN[w.GSRN] = w
	}

	sponsored, err := s.store.GetActiveSponsorships(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load sponsorships: %w", err)
	}

	var infos []db.SyncInfo
	for i := range contracts {
		c := &contracts[i]
		if c.StartDate.After(now) {
			continue
		}

		_, isSponsored := sponsored[c.GSRN]
		cutoff := now.Add(-time.Duration(minimumAgeThresholdHours) * time.Hour)
		if isSponsored {
			cutoff = now
		}

		var window *db.SlidingWindow
		if w, ok := windowByGSRN[c.GSRN]; ok {
			window = &w
		}

		if !s.needsSync(c, window, cutoff) {
			continue
		}

		infos = append(infos, db.SyncInfo{
			GSRN:              c.GSRN,
			StartSyncDate:     c.StartDate,
			EndDate:           c.EndDate,
			Owner:             c.Owner,
			MeteringPointType: c.MeteringPointType,
			GridArea:          c.GridArea,
			RecipientID:       c.RecipientID,
			Technology:        c.Technology,
			IsStateSponsored:  isSponsored,
		})
	}
	return infos, nil
}

// needsSync applies the inclusion rules for one active contract. The
// cutoff comparison is inclusive on the live side: a contract ending
// exactly at the cutoff is still synchronized.
func (s *ContractState) needsSync(c *db.Contract, window *db.SlidingWindow, cutoff time.Time) bool {
	if c.EndDate == nil {
		return true
	}
	if !c.EndDate.Before(cutoff) {
		return true
	}
	// Ended and aged out. Still owed when never synced, when gaps remain,
	// or when the high-water mark has not reached the end date.
	if window == nil {
		return true
	}
	if !window.MissingIntervals.Empty() {
		return true
	}
	return window.SynchronizationPoint.Before(*c.EndDate)
}

// DeleteContractAndSlidingWindow tears down all contracts and the sliding
// window for exactly one GSRN. Other metering points, even ones sharing
// the same owner, are left untouched.
func (s *ContractState) DeleteContractAndSlidingWindow(ctx context.Context, gsrn string) error {
	if err := s.store.DeleteContractAndSlidingWindow(ctx, gsrn); err != nil {
		return fmt.Errorf("failed to delete contracts and sliding window for %s: %w", gsrn, err)
	}
	s.logger.Info("removed contracts and sliding window", zap.String("gsrn", gsrn))
	return nil
}

// RepairMeteringPoint clears a metering point's history only when it is
// actually poisoned: more than one distinct owner recorded for the same
// GSRN. A single-owner history is left intact and the call reports false.
func (s *ContractState) RepairMeteringPoint(ctx context.Context, gsrn string) (bool, error) {
	owners, err := s.store.GetContractOwners(ctx, gsrn)
	if err != nil {
		return false, fmt.Errorf("failed to inspect owners for %s: %w", gsrn, err)
	}
	if len(owners) <= 1 {
		s.logger.Info("repair skipped, single owner history",
			zap.String("gsrn", gsrn),
			zap.Int("owners", len(owners)),
		)
		return false, nil
	}

	if err := s.store.DeleteContractAndSlidingWindow(ctx, gsrn); err != nil {
		return false, fmt.Errorf("failed to repair metering point %s: %w", gsrn, err)
	}
	s.logger.Warn("repaired poisoned metering point",
		zap.String("gsrn", gsrn),
		zap.Int("owners", len(owners)),
	)
	return true, nil
}
