package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/energyorigin/certificate-worker/internal/interval"
)

// MeteringPointType distinguishes production from consumption metering points.
type MeteringPointType string

const (
	MeteringPointProduction  MeteringPointType = "production"
	MeteringPointConsumption MeteringPointType = "consumption"
)

// IssuedState is the lifecycle state of a certificate. Transitions are
// Created -> Issued or Created -> Rejected; both end states are terminal.
type IssuedState string

const (
	IssuedStateCreated  IssuedState = "created"
	IssuedStateIssued   IssuedState = "issued"
	IssuedStateRejected IssuedState = "rejected"
)

// Technology identifies the production technology of a metering point.
type Technology struct {
	FuelCode string `json:"fuel_code"`
	TechCode string `json:"tech_code"`
}

// Contract is an issuance contract for one metering point. ContractNumber
// is unique per GSRN and assigned monotonically. For a given GSRN no two
// contracts may have overlapping [StartDate, EndDate) ranges; a nil
// EndDate extends to infinity.
type Contract struct {
	ID                uuid.UUID
	ContractNumber    int
	GSRN              string
	GridArea          string
	MeteringPointType MeteringPointType
	Owner             string
	StartDate         time.Time
	EndDate           *time.Time
	RecipientID       uuid.UUID
	Technology        *Technology
	CreatedAt         time.Time
}

// Ended reports whether the contract has a fixed end date at or before t.
func (c *Contract) Ended(t time.Time) bool {
	return c.EndDate != nil && !c.EndDate.After(t)
}

// SlidingWindow tracks synchronization progress for one GSRN.
// SynchronizationPoint is the high-water mark up to which measurements are
// known to be either certified or recorded in MissingIntervals. The gaps in
// MissingIntervals lie strictly before SynchronizationPoint.
type SlidingWindow struct {
	GSRN                 string
	SynchronizationPoint time.Time
	MissingIntervals     interval.Set
	Version              int
}

// Advance moves the high-water mark past a reconciled period and clears
// any overlap the period had with the missing-interval set. The mark
// never moves backward.
func (w *SlidingWindow) Advance(period interval.Interval) {
	if period.To.After(w.SynchronizationPoint) {
		w.SynchronizationPoint = period.To
	}
	w.MissingIntervals = w.MissingIntervals.Remove(period)
}

// RecordGap parks an unreconciled range in the missing-interval set. The
// mark still advances past the gap so the range ends up strictly before
// SynchronizationPoint.
func (w *SlidingWindow) RecordGap(gap interval.Interval) {
	if gap.To.After(w.SynchronizationPoint) {
		w.SynchronizationPoint = gap.To
	}
	w.MissingIntervals = w.MissingIntervals.Add(gap)
}

// Sponsorship flags a metering point as state-sponsored, which exempts it
// from the minimum-age hold-back while SponsorshipEndDate is in the future.
type Sponsorship struct {
	GSRN               string
	SponsorshipEndDate time.Time
}

// Active reports whether the sponsorship still applies at t.
func (s *Sponsorship) Active(t time.Time) bool {
	return t.Before(s.SponsorshipEndDate)
}

// Certificate is one granular certificate covering a single measurement
// period of a metering point. At most one non-rejected certificate exists
// per (GSRN, Period).
type Certificate struct {
	ID            uuid.UUID
	GSRN          string
	Period        interval.Interval
	GridArea      string
	Owner         string
	Quantity      uint64
	BlindingValue []byte
	IssuedState   IssuedState
	Technology    *Technology
	CreatedAt     time.Time
}

// SyncInfo is the unit of work handed to the issuance pipeline: one
// contract that still needs a synchronization pass, with the earliest
// point the pass may start from.
type SyncInfo struct {
	GSRN              string
	StartSyncDate     time.Time
	EndDate           *time.Time
	Owner             string
	MeteringPointType MeteringPointType
	GridArea          string
	RecipientID       uuid.UUID
	Technology        *Technology
	IsStateSponsored  bool
}
