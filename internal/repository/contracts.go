package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/energyorigin/certificate-worker/internal/db"
)

const contractColumns = `id, contract_number, gsrn, grid_area, metering_point_type, owner, start_date, end_date, recipient_id, technology, created_at`

// InsertContract inserts a contract, assigning the next contract number for
// the GSRN. The transaction takes an advisory lock on the GSRN so number
// assignment stays monotonic under concurrent creators, and the exclusion
// constraint turns a lost overlap race into ErrOverlappingContract.
func (r *Repository) InsertContract(ctx context.Context, c *db.Contract) (*db.Contract, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, c.GSRN); err != nil {
		return nil, fmt.Errorf("failed to take gsrn lock: %w", err)
	}

	var number int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(contract_number) + 1, 0) FROM contracts WHERE gsrn = $1`,
		c.GSRN,
	).Scan(&number)
	if err != nil {
		return nil, fmt.Errorf("failed to determine contract number: %w", err)
	}

	tech, err := marshalTechnology(c.Technology)
	if err != nil {
		return nil, err
	}

	inserted := *c
	inserted.ID = uuid.New()
	inserted.ContractNumber = number
	inserted.CreatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`INSERT INTO contracts (`+contractColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inserted.ID,
		inserted.ContractNumber,
		inserted.GSRN,
		inserted.GridArea,
		inserted.MeteringPointType,
		inserted.Owner,
		inserted.StartDate,
		inserted.EndDate,
		inserted.RecipientID,
		tech,
		inserted.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err, "contracts_no_overlap") {
			return nil, ErrOverlappingContract
		}
		return nil, fmt.Errorf("failed to insert contract: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit contract insert: %w", err)
	}

	return &inserted, nil
}

// UpdateContractEndDate sets a new end date on one contract. The exclusion
// constraint re-validates overlap against the widened or narrowed range.
func (r *Repository) UpdateContractEndDate(ctx context.Context, gsrn string, contractNumber int, endDate *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE contracts SET end_date = $1 WHERE gsrn = $2 AND contract_number = $3`,
		endDate, gsrn, contractNumber,
	)
	if err != nil {
		if isConstraintViolation(err, "contracts_no_overlap") {
			return ErrOverlappingContract
		}
		return fmt.Errorf("failed to update contract end date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetContract fetches one contract by its (gsrn, contract_number) key.
func (r *Repository) GetContract(ctx context.Context, gsrn string, contractNumber int) (*db.Contract, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE gsrn = $1 AND contract_number = $2`,
		gsrn, contractNumber,
	)
	c, err := scanContract(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contract: %w", err)
	}
	return c, nil
}

// GetContractsByGSRN returns all contracts for a metering point, ordered by
// contract number.
func (r *Repository) GetContractsByGSRN(ctx context.Context, gsrn string) ([]db.Contract, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE gsrn = $1 ORDER BY contract_number`,
		gsrn,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()
	return collectContracts(rows)
}

// GetAllContracts returns every persisted contract, ordered by GSRN then
// contract number. ContractState drives sync scheduling off this.
func (r *Repository) GetAllContracts(ctx context.Context) ([]db.Contract, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts ORDER BY gsrn, contract_number`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()
	return collectContracts(rows)
}

// GetContractOwners returns the distinct owners recorded across all
// contracts for one GSRN. More than one distinct owner is the corruption
// signal the repair routine keys on.
func (r *Repository) GetContractOwners(ctx context.Context, gsrn string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT owner FROM contracts WHERE gsrn = $1`, gsrn,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contract owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return owners, nil
}

// DeleteContractsByGSRNTx removes every contract for exactly one GSRN.
func (r *Repository) DeleteContractsByGSRNTx(ctx context.Context, tx pgx.Tx, gsrn string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM contracts WHERE gsrn = $1`, gsrn); err != nil {
		return fmt.Errorf("failed to delete contracts: %w", err)
	}
	return nil
}

// DeleteContractsByOwner removes every contract owned by one organization,
// used when the organization itself is removed. Sliding windows for
// metering points left with no contracts at all are removed in the same
// transaction; windows still referenced by another owner's contracts stay.
func (r *Repository) DeleteContractsByOwner(ctx context.Context, owner string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `DELETE FROM contracts WHERE owner = $1 RETURNING gsrn`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete contracts by owner: %w", err)
	}
	var deleted int64
	gsrns := make(map[string]struct{})
	for rows.Next() {
		var gsrn string
		if err := rows.Scan(&gsrn); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan deleted gsrn: %w", err)
		}
		gsrns[gsrn] = struct{}{}
		deleted++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rows iteration error: %w", err)
	}

	for gsrn := range gsrns {
		_, err := tx.Exec(ctx,
			`DELETE FROM sliding_windows w WHERE w.gsrn = $1
			 AND NOT EXISTS (SELECT 1 FROM contracts c WHERE c.gsrn = w.gsrn)`,
			gsrn,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to delete orphaned sliding window: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit owner cleanup: %w", err)
	}
	return deleted, nil
}

func collectContracts(rows pgx.Rows) ([]db.Contract, error) {
	var contracts []db.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		contracts = append(contracts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return contracts, nil
}

func scanContract(row pgx.Row) (*db.Contract, error) {
	var c db.Contract
	var tech []byte
	err := row.Scan(
		&c.ID,
		&c.ContractNumber,
		&c.GSRN,
		&c.GridArea,
		&c.MeteringPointType,
		&c.Owner,
		&c.StartDate,
		&c.EndDate,
		&c.RecipientID,
		&tech,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(tech) > 0 {
		var t db.Technology
		if err := json.Unmarshal(tech, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal technology: %w", err)
		}
		c.Technology = &t
	}
	return &c, nil
}

func marshalTechnology(t *db.Technology) ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal technology: %w", err)
	}
	return raw, nil
}
