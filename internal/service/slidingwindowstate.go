package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/repository"
)

// SlidingWindowState computes the synchronization start time for a single
// metering point, reconciling contract bounds with persisted progress.
type SlidingWindowState struct {
	store Store
}

// NewSlidingWindowState creates a new sliding window state service.
func NewSlidingWindowState(store Store) *SlidingWindowState {
	return &SlidingWindowState{store: store}
}

// GetSyncStartTime returns the instant the next pass must start from.
// Without a persisted window this is the contract's start. With one, the
// max of the high-water mark and the contract start wins: a stale window
// left over from an earlier contract on the same GSRN must never pull a
// sync before the active contract's start.
func (s *SlidingWindowState) GetSyncStartTime(ctx context.Context, info db.SyncInfo) (time.Time, error) {
	window, err := s.store.GetSlidingWindow(ctx, info.GSRN)
	if errors.Is(err, repository.ErrNotFound) {
		return info.StartSyncDate, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load sliding window for %s: %w", info.GSRN, err)
	}

	if window.SynchronizationPoint.After(info.StartSyncDate) {
		return window.SynchronizationPoint, nil
	}
	return info.StartSyncDate, nil
}
