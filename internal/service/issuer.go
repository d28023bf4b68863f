package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/interval"
	"github.com/energyorigin/certificate-worker/internal/logging"
	"github.com/energyorigin/certificate-worker/internal/measurements"
	"github.com/energyorigin/certificate-worker/internal/mq"
	"github.com/energyorigin/certificate-worker/internal/registry"
	"github.com/energyorigin/certificate-worker/internal/repository"
)

// RetryPolicy is the tiered registry retry configuration. StillProcessing
// responses get their own budget; transient failures burn through the
// first level with short backoff and then a second, slower escalation
// level before the period is given up on.
type RetryPolicy struct {
	StillProcessingRetryCount int
	FirstLevelRetryCount      int
	SecondLevelRetryCount     int
	FirstLevelInitialBackoff  time.Duration
	SecondLevelInitialBackoff time.Duration
}

// Issuer is the issuance pipeline: it fetches measurements for a
// computed range, turns measured periods into certificates via the
// registry connector and keeps the sliding window truthful about what is
// still owed.
type Issuer struct {
	store       Store
	source      MeasurementSource
	registry    RegistryConnector
	publisher   ActivityPublisher
	windowState *SlidingWindowState
	retry       RetryPolicy
	logger      *zap.Logger
}

// NewIssuer creates a new issuance pipeline.
func NewIssuer(
	store Store,
	source MeasurementSource,
	connector RegistryConnector,
	publisher ActivityPublisher,
	windowState *SlidingWindowState,
	retry RetryPolicy,
	logger *zap.Logger,
) *Issuer {
	return &Issuer{
		store:       store,
		source:      source,
		registry:    connector,
		publisher:   publisher,
		windowState: windowState,
		retry:       retry,
		logger:      logger,
	}
}

// Synchronize runs one pass for a metering point: heal persisted missing
// intervals first, then extend the head of the window up to the age
// threshold (or the contract end). Each period is committed in its own
// transaction, so cancellation mid-pass never leaves a half-advanced
// window.
func (i *Issuer) Synchronize(ctx context.Context, info db.SyncInfo, now time.Time, minimumAgeThresholdHours int) error {
	logger := logging.WithGSRN(i.logger, info.GSRN)

	window, err := i.store.GetSlidingWindow(ctx, info.GSRN)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to load sliding window: %w", err)
	}

	if window != nil && !window.MissingIntervals.Empty() {
		if err := i.healMissingIntervals(ctx, info, window, logger); err != nil {
			return err
		}
	}

	start, err := i.windowState.GetSyncStartTime(ctx, info)
	if err != nil {
		return err
	}

	end := now.Add(-time.Duration(minimumAgeThresholdHours) * time.Hour)
	if info.IsStateSponsored {
		end = now
	}
	if info.EndDate != nil && info.EndDate.Before(end) {
		end = *info.EndDate
	}
	if !start.Before(end) {
		return nil
	}

	fetched, err := i.source.FetchMeasurements(ctx, info.GSRN, start, end)
	if err != nil {
		return fmt.Errorf("failed to fetch measurements: %w", err)
	}

	// The window row is created lazily, on the first successful fetch.
	if window == nil {
		window = &db.SlidingWindow{GSRN: info.GSRN, SynchronizationPoint: start}
	}

	return i.reconcileRange(ctx, info, window, fetched, interval.Interval{From: start, To: end}, logger)
}

// healMissingIntervals refetches every persisted gap and issues whatever
// has since become measurable. Periods that stay unmeasured stay parked.
func (i *Issuer) healMissingIntervals(ctx context.Context, info db.SyncInfo, window *db.SlidingWindow, logger *zap.Logger) error {
	gaps := make(interval.Set, len(window.MissingIntervals))
	copy(gaps, window.MissingIntervals)

	for _, gap := range gaps {
		fetched, err := i.source.FetchMeasurements(ctx, info.GSRN, gap.From, gap.To)
		if err != nil {
			return fmt.Errorf("failed to fetch measurements for gap %s: %w", gap, err)
		}
		for _, m := range sortedByStart(fetched) {
			if m.Quality != measurements.QualityMeasured {
				continue
			}
			period := interval.Interval{From: m.From, To: m.To}
			// A row straddling the gap edge was settled on an earlier pass.
			if !gap.Contains(period) {
				continue
			}
			if err := i.issuePeriod(ctx, info, window, period, m.Quantity, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileRange walks the fetched measurements across [rangeStart,
// rangeEnd), issuing certificates for measured periods and recording
// everything else as gaps.
func (i *Issuer) reconcileRange(ctx context.Context, info db.SyncInfo, window *db.SlidingWindow, fetched []measurements.Measurement, full interval.Interval, logger *zap.Logger) error {
	cursor := full.From
	for _, m := range sortedByStart(fetched) {
		if m.From.After(cursor) {
			// Hole with no measurement at all.
			if err := i.recordGap(ctx, window, interval.Interval{From: cursor, To: m.From}, logger); err != nil {
				return err
			}
		}
		period := interval.Interval{From: m.From, To: m.To}
		if m.Quality != measurements.QualityMeasured {
			if err := i.recordGap(ctx, window, period, logger); err != nil {
				return err
			}
		} else {
			if err := i.issuePeriod(ctx, info, window, period, m.Quantity, logger); err != nil {
				return err
			}
		}
		if m.To.After(cursor) {
			cursor = m.To
		}
	}
	if cursor.Before(full.To) {
		if err := i.recordGap(ctx, window, interval.Interval{From: cursor, To: full.To}, logger); err != nil {
			return err
		}
	}
	return nil
}

// issuePeriod drives one period to a terminal decision: an existing
// issued certificate just patches the window, otherwise a certificate is
// created (or resumed) and submitted with the tiered retry policy.
func (i *Issuer) issuePeriod(ctx context.Context, info db.SyncInfo, window *db.SlidingWindow, period interval.Interval, quantity uint64, logger *zap.Logger) error {
	cert, err := i.store.GetCertificateForPeriod(ctx, info.GSRN, period)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check existing certificate: %w", err)
	}

	if cert != nil && cert.IssuedState == db.IssuedStateIssued {
		// Already on the ledger; just reconcile the window.
		window.Advance(period)
		if err := i.store.SaveSlidingWindow(ctx, window); err != nil {
			return err
		}
		return nil
	}

	if cert == nil {
		blinding := make([]byte, 32)
		if _, err := rand.Read(blinding); err != nil {
			return fmt.Errorf("failed to generate blinding value: %w", err)
		}
		cert = &db.Certificate{
			ID:            uuid.New(),
			GSRN:          info.GSRN,
			Period:        period,
			GridArea:      info.GridArea,
			Owner:         info.Owner,
			Quantity:      quantity,
			BlindingValue: blinding,
			IssuedState:   db.IssuedStateCreated,
			Technology:    info.Technology,
			CreatedAt:     time.Now().UTC(),
		}
		if err := i.store.CreateCertificate(ctx, cert); err != nil {
			if errors.Is(err, repository.ErrCertificateExists) {
				// Lost a race with another pass; it owns the period now.
				return nil
			}
			return err
		}
	}

	claim := registry.CertificateClaim{
		CertificateID: cert.ID,
		GSRN:          cert.GSRN,
		GridArea:      cert.GridArea,
		Period:        cert.Period,
		Quantity:      cert.Quantity,
		BlindingValue: cert.BlindingValue,
		Owner:         cert.Owner,
		Technology:    cert.Technology,
	}

	submitErr := i.submit(ctx, claim, logger)
	switch {
	case submitErr == nil:
		window.Advance(period)
		if err := i.store.FinalizeIssuance(ctx, cert.ID, db.IssuedStateIssued, window); err != nil {
			return err
		}
		i.publishDecision(ctx, cert, db.IssuedStateIssued, logger)
		logger.Info("certificate issued",
			zap.String("certificate_id", cert.ID.String()),
			zap.Time("period_from", period.From),
			zap.Time("period_to", period.To),
		)
		return nil

	case errors.Is(submitErr, ErrRetriesExhausted):
		window.RecordGap(period)
		if err := i.store.FinalizeIssuance(ctx, cert.ID, db.IssuedStateRejected, window); err != nil {
			return err
		}
		i.publishDecision(ctx, cert, db.IssuedStateRejected, logger)
		logger.Warn("certificate rejected after exhausting retries",
			zap.String("certificate_id", cert.ID.String()),
			zap.Time("period_from", period.From),
		)
		return nil

	default:
		// Cancellation or unexpected failure: leave the certificate in
		// Created and the window untouched; the next pass resumes it.
		return submitErr
	}
}

// recordGap persists a gap that was never submitted at all.
func (i *Issuer) recordGap(ctx context.Context, window *db.SlidingWindow, gap interval.Interval, logger *zap.Logger) error {
	window.RecordGap(gap)
	if err := i.store.SaveSlidingWindow(ctx, window); err != nil {
		return err
	}
	logger.Debug("recorded missing interval",
		zap.Time("from", gap.From),
		zap.Time("to", gap.To),
		zap.Duration("length", gap.Duration()),
	)
	return nil
}

func (i *Issuer) publishDecision(ctx context.Context, cert *db.Certificate, state db.IssuedState, logger *zap.Logger) {
	event := mq.IssuanceEvent{
		CertificateID: cert.ID.String(),
		GSRN:          cert.GSRN,
		PeriodFrom:    cert.Period.From,
		PeriodTo:      cert.Period.To,
		GridArea:      cert.GridArea,
		Owner:         cert.Owner,
		Quantity:      cert.Quantity,
		State:         string(state),
	}
	// The decision is already durable; a lost event only degrades the
	// activity log.
	if err := i.publisher.PublishIssuanceEvent(ctx, event); err != nil {
		logger.Error("failed to publish issuance event",
			zap.Error(err),
			zap.String("certificate_id", cert.ID.String()),
		)
	}
}

// submit applies the tiered retry policy around single submission
// attempts. StillProcessing has its own budget; transport failures and
// ledger failures burn the first level, then the slower second level.
func (i *Issuer) submit(ctx context.Context, claim registry.CertificateClaim, logger *zap.Logger) error {
	pollBackoff := newTierBackoff(i.retry.FirstLevelInitialBackoff)
	firstTier := newTierBackoff(i.retry.FirstLevelInitialBackoff)
	secondTier := newTierBackoff(i.retry.SecondLevelInitialBackoff)

	stillProcessing := 0
	transientFailures := 0
	var lastErr error

	for {
		status, err := i.registry.Submit(ctx, claim)

		var wait time.Duration
		switch {
		case err == nil && status == registry.StatusAccepted:
			return nil

		case err == nil && status == registry.StatusStillProcessing:
			stillProcessing++
			if stillProcessing > i.retry.StillProcessingRetryCount {
				return fmt.Errorf("%w: transaction still processing after %d polls", ErrRetriesExhausted, stillProcessing-1)
			}
			wait = pollBackoff.NextBackOff()

		default:
			if err != nil {
				lastErr = err
			} else {
				lastErr = fmt.Errorf("registry reported failure for certificate %s", claim.CertificateID)
			}
			transientFailures++
			switch {
			case transientFailures <= i.retry.FirstLevelRetryCount:
				wait = firstTier.NextBackOff()
			case transientFailures <= i.retry.FirstLevelRetryCount+i.retry.SecondLevelRetryCount:
				wait = secondTier.NextBackOff()
			default:
				return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
			}
			logger.Warn("registry submission failed, retrying",
				zap.Error(lastErr),
				zap.Int("attempt", transientFailures),
				zap.Duration("backoff", wait),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func newTierBackoff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	b.MaxElapsedTime = 0
	return b
}

func sortedByStart(ms []measurements.Measurement) []measurements.Measurement {
	out := make([]measurements.Measurement, len(ms))
	copy(out, ms)
	sort.Slice(out, func(a, b int) bool { return out[a].From.Before(out[b].From) })
	return out
}
