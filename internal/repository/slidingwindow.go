package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/interval"
)

// GetSlidingWindow fetches the sliding window for a GSRN, or ErrNotFound
// when the metering point has never been synchronized.
func (r *Repository) GetSlidingWindow(ctx context.Context, gsrn string) (*db.SlidingWindow, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT gsrn, synchronization_point, missing_intervals, version
		 FROM sliding_windows WHERE gsrn = $1`,
		gsrn,
	)
	w, err := scanSlidingWindow(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sliding window: %w", err)
	}
	return w, nil
}

// GetAllSlidingWindows returns every persisted sliding window.
func (r *Repository) GetAllSlidingWindows(ctx context.Context) ([]db.SlidingWindow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT gsrn, synchronization_point, missing_intervals, version FROM sliding_windows`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sliding windows: %w", err)
	}
	defer rows.Close()

	var windows []db.SlidingWindow
	for rows.Next() {
		w, err := scanSlidingWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return windows, nil
}

// UpsertSlidingWindowTx persists a window inside an open transaction. A new
// window (Version 0) is inserted; an existing one is updated with an
// optimistic version check and fails with ErrVersionConflict when a
// concurrent pass got there first. On success the struct's Version is
// bumped to the stored value.
func (r *Repository) UpsertSlidingWindowTx(ctx context.Context, tx pgx.Tx, w *db.SlidingWindow) error {
	missing, err := json.Marshal(w.MissingIntervals)
	if err != nil {
		return fmt.Errorf("failed to marshal missing intervals: %w", err)
	}
	if w.MissingIntervals.Empty() {
		missing = []byte(`[]`)
	}

	if w.Version == 0 {
		_, err := tx.Exec(ctx,
			`INSERT INTO sliding_windows (gsrn, synchronization_point, missing_intervals, version)
			 VALUES ($1, $2, $3, 1)`,
			w.GSRN, w.SynchronizationPoint, missing,
		)
		if err != nil {
			if isConstraintViolation(err, "") {
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to insert sliding window: %w", err)
		}
		w.Version = 1
		return nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sliding_windows
		 SET synchronization_point = $1, missing_intervals = $2, version = version + 1
		 WHERE gsrn = $3 AND version = $4`,
		w.SynchronizationPoint, missing, w.GSRN, w.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update sliding window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	w.Version++
	return nil
}

// DeleteSlidingWindowTx removes the window for exactly one GSRN.
func (r *Repository) DeleteSlidingWindowTx(ctx context.Context, tx pgx.Tx, gsrn string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM sliding_windows WHERE gsrn = $1`, gsrn); err != nil {
		return fmt.Errorf("failed to delete sliding window: %w", err)
	}
	return nil
}

func scanSlidingWindow(row pgx.Row) (*db.SlidingWindow, error) {
	var w db.SlidingWindow
	var missing []byte
	if err := row.Scan(&w.GSRN, &w.SynchronizationPoint, &missing, &w.Version); err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		var set interval.Set
		if err := json.Unmarshal(missing, &set); err != nil {
			return nil, fmt.Errorf("failed to unmarshal missing intervals: %w", err)
		}
		w.MissingIntervals = set
	}
	return &w, nil
}
