package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/energyorigin/certificate-worker/internal/db"
)

// CreateCertificate persists a certificate in Created state in its own
// transaction. The row is the idempotency marker for the period: a pass
// interrupted between creation and finalization resumes from it.
func (r *Repository) CreateCertificate(ctx context.Context, c *db.Certificate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.InsertCertificateTx(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit certificate: %w", err)
	}
	return nil
}

// FinalizeIssuance commits one issuance decision atomically: the
// certificate leaves Created and the sliding window advances (or records
// the gap) in the same transaction. Interrupted passes therefore never
// advance the high-water mark past an unfinalized certificate.
func (r *Repository) FinalizeIssuance(ctx context.Context, certificateID uuid.UUID, state db.IssuedState, w *db.SlidingWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.SetCertificateStateTx(ctx, tx, certificateID, state); err != nil {
		return err
	}
	if err := r.UpsertSlidingWindowTx(ctx, tx, w); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit issuance: %w", err)
	}
	return nil
}

// SaveSlidingWindow persists a window update that carries no certificate
// state change, e.g. recording gaps discovered without any submission.
func (r *Repository) SaveSlidingWindow(ctx context.Context, w *db.SlidingWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.UpsertSlidingWindowTx(ctx, tx, w); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit sliding window: %w", err)
	}
	return nil
}

// DeleteContractAndSlidingWindow removes all contracts and the sliding
// window for exactly one GSRN in a single transaction. Rows for other
// metering points, including ones sharing the same owner, are untouched.
func (r *Repository) DeleteContractAndSlidingWindow(ctx context.Context, gsrn string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.DeleteContractsByGSRNTx(ctx, tx, gsrn); err != nil {
		return err
	}
	if err := r.DeleteSlidingWindowTx(ctx, tx, gsrn); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return nil
}
