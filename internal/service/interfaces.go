package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/interval"
	"github.com/energyorigin/certificate-worker/internal/measurements"
	"github.com/energyorigin/certificate-worker/internal/mq"
	"github.com/energyorigin/certificate-worker/internal/registry"
)

var (
	// ErrInvalidGSRN flags a malformed metering point identifier.
	ErrInvalidGSRN = errors.New("invalid gsrn")

	// ErrInvalidPeriod flags an end date at or before the start date.
	ErrInvalidPeriod = errors.New("contract end date must be after start date")

	// ErrNotOwned is returned when the caller does not own the metering
	// point or the point is not eligible for issuance.
	ErrNotOwned = errors.New("metering point not owned by caller or not eligible")

	// ErrContractExpired forbids edits to contracts that already ended.
	ErrContractExpired = errors.New("cannot edit an expired contract")

	// ErrUnauthorized is returned when the caller is neither the owning
	// nor the receiving organization of the contract.
	ErrUnauthorized = errors.New("caller is not authorized for this contract")

	// ErrRetriesExhausted means all registry retry tiers were spent
	// without a confirmed acceptance.
	ErrRetriesExhausted = errors.New("registry retries exhausted")
)

// Store is the persistence surface the services run against. The
// production implementation is *repository.Repository; tests provide an
// in-memory fake with the same conflict semantics.
type Store interface {
	InsertContract(ctx context.Context, c *db.Contract) (*db.Contract, error)
	UpdateContractEndDate(ctx context.Context, gsrn string, contractNumber int, endDate *time.Time) error
	GetContract(ctx context.Context, gsrn string, contractNumber int) (*db.Contract, error)
	GetContractsByGSRN(ctx context.Context, gsrn string) ([]db.Contract, error)
	GetAllContracts(ctx context.Context) ([]db.Contract, error)
	GetContractOwners(ctx context.Context, gsrn string) ([]string, error)
	DeleteContractsByOwner(ctx context.Context, owner string) (int64, error)
	DeleteContractAndSlidingWindow(ctx context.Context, gsrn string) error

	GetSlidingWindow(ctx context.Context, gsrn string) (*db.SlidingWindow, error)
	GetAllSlidingWindows(ctx context.Context) ([]db.SlidingWindow, error)
	SaveSlidingWindow(ctx context.Context, w *db.SlidingWindow) error

	GetActiveSponsorships(ctx context.Context, now time.Time) (map[string]db.Sponsorship, error)
	UpsertSponsorship(ctx context.Context, s *db.Sponsorship) error
	DeleteSponsorship(ctx context.Context, gsrn string) error

	CreateCertificate(ctx context.Context, c *db.Certificate) error
	GetCertificateForPeriod(ctx context.Context, gsrn string, period interval.Interval) (*db.Certificate, error)
	FinalizeIssuance(ctx context.Context, certificateID uuid.UUID, state db.IssuedState, w *db.SlidingWindow) error
}

// RegistryConnector performs a single issuance submission attempt.
type RegistryConnector interface {
	Submit(ctx context.Context, claim registry.CertificateClaim) (registry.SubmissionStatus, error)
}

// MeasurementSource fetches measurements for a GSRN within [from, to).
type MeasurementSource interface {
	FetchMeasurements(ctx context.Context, gsrn string, from, to time.Time) ([]measurements.Measurement, error)
}

// MeteringPointService answers ownership/eligibility questions at
// contract-creation time.
type MeteringPointService interface {
	IsOwnedAndEligible(ctx context.Context, gsrn, organization string) (bool, error)
}

// ActivityPublisher emits one activity-log event per issuance decision.
type ActivityPublisher interface {
	PublishIssuanceEvent(ctx context.Context, event mq.IssuanceEvent) error
}
