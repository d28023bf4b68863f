package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/energyorigin/certificate-worker/internal/db"
)

// GetActiveSponsorships returns, keyed by GSRN, every sponsorship still in
// force at the given instant. ContractState uses this to bypass the
// minimum-age hold-back.
func (r *Repository) GetActiveSponsorships(ctx context.Context, now time.Time) (map[string]db.Sponsorship, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT gsrn, sponsorship_end_date FROM sponsorships WHERE sponsorship_end_date > $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sponsorships: %w", err)
	}
	defer rows.Close()

	active := make(map[string]db.Sponsorship)
	for rows.Next() {
		var s db.Sponsorship
		if err := rows.Scan(&s.GSRN, &s.SponsorshipEndDate); err != nil {
			return nil, fmt.Errorf("failed to scan sponsorship: %w", err)
		}
		active[s.GSRN] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return active, nil
}

// UpsertSponsorship records or extends a sponsorship for a metering point.
func (r *Repository) UpsertSponsorship(ctx context.Context, s *db.Sponsorship) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sponsorships (gsrn, sponsorship_end_date) VALUES ($1, $2)
		 ON CONFLICT (gsrn) DO UPDATE SET sponsorship_end_date = EXCLUDED.sponsorship_end_date`,
		s.GSRN, s.SponsorshipEndDate,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sponsorship: %w", err)
	}
	return nil
}

// DeleteSponsorship removes the sponsorship record for a GSRN.
func (r *Repository) DeleteSponsorship(ctx context.Context, gsrn string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sponsorships WHERE gsrn = $1`, gsrn); err != nil {
		return fmt.Errorf("failed to delete sponsorship: %w", err)
	}
	return nil
}
