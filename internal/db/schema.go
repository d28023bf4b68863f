package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied on startup. Statements are idempotent so repeated
// worker starts (and rolling deploys) are safe.
//
// The partial unique index on certificates allows rejected rows to pile up
// for a period while still guaranteeing at most one live certificate per
// (gsrn, period). The exclusion constraint on contracts is the storage-level
// overlap guard backing the in-process pre-check.
const schema = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS contracts (
    id              UUID PRIMARY KEY,
    contract_number INT NOT NULL,
    gsrn            TEXT NOT NULL,
    grid_area       TEXT NOT NULL,
    metering_point_type TEXT NOT NULL,
    owner           TEXT NOT NULL,
    start_date      TIMESTAMPTZ NOT NULL,
    end_date        TIMESTAMPTZ,
    recipient_id    UUID NOT NULL,
    technology      JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (gsrn, contract_number),
    CONSTRAINT contracts_no_overlap EXCLUDE USING gist (
        gsrn WITH =,
        tstzrange(start_date, COALESCE(end_date, 'infinity'::timestamptz)) WITH &&
    )
);

CREATE TABLE IF NOT EXISTS sliding_windows (
    gsrn                  TEXT PRIMARY KEY,
    synchronization_point TIMESTAMPTZ NOT NULL,
    missing_intervals     JSONB NOT NULL DEFAULT '[]',
    version               INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sponsorships (
    gsrn                 TEXT PRIMARY KEY,
    sponsorship_end_date TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS certificates (
    id             UUID PRIMARY KEY,
    gsrn           TEXT NOT NULL,
    period_from    TIMESTAMPTZ NOT NULL,
    period_to      TIMESTAMPTZ NOT NULL,
    grid_area      TEXT NOT NULL,
    owner          TEXT NOT NULL,
    quantity       BIGINT NOT NULL,
    blinding_value BYTEA NOT NULL,
    issued_state   TEXT NOT NULL,
    technology     JSONB,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS certificates_live_period_idx
    ON certificates (gsrn, period_from, period_to)
    WHERE issued_state <> 'rejected';
`

// EnsureSchema creates the worker's tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema statements: %w", err)
	}
	return nil
}
