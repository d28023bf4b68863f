package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/interval"
)

const certificateColumns = `id, gsrn, period_from, period_to, grid_area, owner, quantity, blinding_value, issued_state, technology, created_at`

// InsertCertificateTx persists a certificate in Created state within an
// open transaction. A live certificate already covering the period makes
// it return ErrCertificateExists.
func (r *Repository) InsertCertificateTx(ctx context.Context, tx pgx.Tx, c *db.Certificate) error {
	tech, err := marshalTechnology(c.Technology)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO certificates (`+certificateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID,
		c.GSRN,
		c.Period.From,
		c.Period.To,
		c.GridArea,
		c.Owner,
		int64(c.Quantity),
		c.BlindingValue,
		c.IssuedState,
		tech,
		c.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err, "certificates_live_period_idx") {
			return ErrCertificateExists
		}
		return fmt.Errorf("failed to insert certificate: %w", err)
	}
	return nil
}

// SetCertificateStateTx moves a certificate out of Created. The WHERE
// clause keeps terminal states terminal.
func (r *Repository) SetCertificateStateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, state db.IssuedState) error {
	tag, err := tx.Exec(ctx,
		`UPDATE certificates SET issued_state = $1 WHERE id = $2 AND issued_state = $3`,
		state, id, db.IssuedStateCreated,
	)
	if err != nil {
		return fmt.Errorf("failed to update certificate state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCertificateForPeriod returns the live (non-rejected) certificate
// covering exactly the given period, or ErrNotFound.
func (r *Repository) GetCertificateForPeriod(ctx context.Context, gsrn string, period interval.Interval) (*db.Certificate, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE gsrn = $1 AND period_from = $2 AND period_to = $3 AND issued_state <> $4`,
		gsrn, period.From, period.To, db.IssuedStateRejected,
	)
	c, err := scanCertificate(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query certificate: %w", err)
	}
	return c, nil
}

func scanCertificate(row pgx.Row) (*db.Certificate, error) {
	var c db.Certificate
	var tech []byte
	var quantity int64
	err := row.Scan(
		&c.ID,
		&c.GSRN,
		&c.Period.From,
		&c.Period.To,
		&c.GridArea,
		&c.Owner,
		&quantity,
		&c.BlindingValue,
		&c.IssuedState,
		&tech,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Quantity = uint64(quantity)
	if len(tech) > 0 {
		var t db.Technology
		if err := json.Unmarshal(tech, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal technology: %w", err)
		}
		c.Technology = &t
	}
	return &c, nil
}
