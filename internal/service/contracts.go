package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/repository"
	"github.com/energyorigin/certificate-worker/tools/gsrn"
)

// ContractService creates and edits issuance contracts. Overlap is
// pre-checked in process and enforced again by the storage-level guard,
// so a burst of concurrent creators for the same GSRN yields exactly one
// winner and conflict errors for the rest.
type ContractService struct {
	store          Store
	meteringPoints MeteringPointService
	logger         *zap.Logger
}

// NewContractService creates a new contract service.
func NewContractService(store Store, meteringPoints MeteringPointService, logger *zap.Logger) *ContractService {
	return &ContractService{
		store:          store,
		meteringPoints: meteringPoints,
		logger:         logger,
	}
}

// CreateContractRequest carries the caller's intent to put a metering
// point under an issuance contract.
type CreateContractRequest struct {
	GSRN              string
	GridArea          string
	MeteringPointType db.MeteringPointType
	Owner             string
	StartDate         time.Time
	EndDate           *time.Time
	RecipientID       uuid.UUID
	Technology        *db.Technology
}

// CreateContract validates the request, verifies ownership/eligibility
// with the metering-point service and inserts the contract. Overlapping
// periods are rejected with repository.ErrOverlappingContract whether the
// pre-check or the storage guard catches them.
func (s *ContractService) CreateContract(ctx context.Context, req CreateContractRequest) (*db.Contract, error) {
	if err := gsrn.Validate(req.GSRN); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGSRN, err)
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return nil, ErrInvalidPeriod
	}

	owned, err := s.meteringPoints.IsOwnedAndEligible(ctx, req.GSRN, req.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to verify metering point ownership: %w", err)
	}
	if !owned {
		return nil, ErrNotOwned
	}

	existing, err := s.store.GetContractsByGSRN(ctx, req.GSRN)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing contracts: %w", err)
	}
	if err := checkOverlap(existing, req.StartDate, req.EndDate, -1); err != nil {
		return nil, err
	}

	contract, err := s.store.InsertContract(ctx, &db.Contract{
		GSRN:              req.GSRN,
		GridArea:          req.GridArea,
		MeteringPointType: req.MeteringPointType,
		Owner:             req.Owner,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		RecipientID:       req.RecipientID,
		Technology:        req.Technology,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("contract created",
		zap.String("gsrn", contract.GSRN),
		zap.Int("contract_number", contract.ContractNumber),
		zap.String("owner", contract.Owner),
	)
	return contract, nil
}

// SetEndDate edits the end date of an existing contract. It refuses once
// the contract has expired, when the caller is neither the owning nor the
// receiving organization, and when the new range would overlap a sibling
// contract.
func (s *ContractService) SetEndDate(ctx context.Context, meteringPointID string, contractNumber int, subject string, endDate *time.Time, now time.Time) error {
	contract, err := s.store.GetContract(ctx, meteringPointID, contractNumber)
	if err != nil {
		return err
	}

	if contract.Ended(now) {
		return ErrContractExpired
	}
	if subject != contract.Owner && subject != contract.RecipientID.String() {
		return ErrUnauthorized
	}
	if endDate != nil && !endDate.After(contract.StartDate) {
		return ErrInvalidPeriod
	}

	siblings, err := s.store.GetContractsByGSRN(ctx, meteringPointID)
	if err != nil {
		return fmt.Errorf("failed to load existing contracts: %w", err)
	}
	if err := checkOverlap(siblings, contract.StartDate, endDate, contractNumber); err != nil {
		return err
	}

	if err := s.store.UpdateContractEndDate(ctx, meteringPointID, contractNumber, endDate); err != nil {
		return err
	}

	s.logger.Info("contract end date updated",
		zap.String("gsrn", meteringPointID),
		zap.Int("contract_number", contractNumber),
	)
	return nil
}

// checkOverlap rejects a [start, end) range that overlaps any existing
// contract for the GSRN other than the one being edited. An open end
// extends to infinity and overlaps anything starting afterward.
func checkOverlap(existing []db.Contract, start time.Time, end *time.Time, skipContractNumber int) error {
	for i := range existing {
		c := &existing[i]
		if c.ContractNumber == skipContractNumber {
			continue
		}
		if rangesOverlap(start, end, c.StartDate, c.EndDate) {
			return repository.ErrOverlappingContract
		}
	}
	return nil
}

// rangesOverlap compares two half-open ranges where a nil end means
// infinity.
func rangesOverlap(aStart time.Time, aEnd *time.Time, bStart time.Time, bEnd *time.Time) bool {
	aBeforeB := aEnd != nil && !aEnd.After(bStart)
	bBeforeA := bEnd != nil && !bEnd.After(aStart)
	return !aBeforeB && !bBeforeA
}
