package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/interval"
	"github.com/energyorigin/certificate-worker/internal/measurements"
	"github.com/energyorigin/certificate-worker/internal/mq"
	"github.com/energyorigin/certificate-worker/internal/registry"
	"github.com/energyorigin/certificate-worker/internal/repository"
)

// Valid GS1 numbers: 17-digit body plus mod-10 check digit.
const (
	gsrnA = "571313100000011115"
	gsrnB = "571313100000022227"
	gsrnC = "571313100000033339"
)

// fakeStore is an in-memory Store with the same conflict semantics as the
// postgres repository: overlap guard on contract insert, live-period
// uniqueness on certificates, versioned sliding windows.
type fakeStore struct {
	mu           sync.Mutex
	contracts    []db.Contract
	windows      map[string]db.SlidingWindow
	sponsorships map[string]db.Sponsorship
	certificates []db.Certificate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		windows:      make(map[string]db.SlidingWindow),
		sponsorships: make(map[string]db.Sponsorship),
	}
}

func overlaps(aStart time.Time, aEnd *time.Time, bStart time.Time, bEnd *time.Time) bool {
	aBeforeB := aEnd != nil && !aEnd.After(bStart)
	bBeforeA := bEnd != nil && !bEnd.After(aStart)
	return !aBeforeB && !bBeforeA
}

func (f *fakeStore) InsertContract(_ context.Context, c *db.Contract) (*db.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	number := 0
	for i := range f.contracts {
		existing := &f.contracts[i]
		if existing.GSRN != c.GSRN {
			continue
		}
		if existing.ContractNumber >= number {
			number = existing.ContractNumber + 1
		}
		if overlaps(c.StartDate, c.EndDate, existing.StartDate, existing.EndDate) {
			return nil, repository.ErrOverlappingContract
		}
	}

	inserted := *c
	inserted.ID = uuid.New()
	inserted.ContractNumber = number
	inserted.CreatedAt = time.Now().UTC()
	f.contracts = append(f.contracts, inserted)
	return &inserted, nil
}

func (f *fakeStore) UpdateContractEndDate(_ context.Context, gsrn string, contractNumber int, endDate *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.contracts {
		c := &f.contracts[i]
		if c.GSRN == gsrn && c.ContractNumber == contractNumber {
			for j := range f.contracts {
				other := &f.contracts[j]
				if other.GSRN != gsrn || other.ContractNumber == contractNumber {
					continue
				}
				if overlaps(c.StartDate, endDate, other.StartDate, other.EndDate) {
					return repository.ErrOverlappingContract
				}
			}
			c.EndDate = endDate
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeStore) GetContract(_ context.Context, gsrn string, contractNumber int) (*db.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.contracts {
		if f.contracts[i].GSRN == gsrn && f.contracts[i].ContractNumber == contractNumber {
			c := f.contracts[i]
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) GetContractsByGSRN(_ context.Context, gsrn string) ([]db.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Contract
	for _, c := range f.contracts {
		if c.GSRN == gsrn {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAllContracts(_ context.Context) ([]db.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]db.Contract, len(f.contracts))
	copy(out, f.contracts)
	return out, nil
}

func (f *fakeStore) GetContractOwners(_ context.Context, gsrn string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	var owners []string
	for _, c := range f.contracts {
		if c.GSRN != gsrn {
			continue
		}
		if _, ok := seen[c.Owner]; !ok {
			seen[c.Owner] = struct{}{}
			owners = append(owners, c.Owner)
		}
	}
	return owners, nil
}

func (f *fakeStore) DeleteContractsByOwner(_ context.Context, owner string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []db.Contract
	var deleted int64
	removedGSRNs := make(map[string]struct{})
	for _, c := range f.contracts {
		if c.Owner == owner {
			deleted++
			removedGSRNs[c.GSRN] = struct{}{}
			continue
		}
		kept = append(kept, c)
	}
	f.contracts = kept
	for gsrn := range removedGSRNs {
		stillUsed := false
		for _, c := range f.contracts {
			if c.GSRN == gsrn {
				stillUsed = true
				break
			}
		}
		if !stillUsed {
			delete(f.windows, gsrn)
		}
	}
	return deleted, nil
}

func (f *fakeStore) DeleteContractAndSlidingWindow(_ context.Context, gsrn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []db.Contract
	for _, c := range f.contracts {
		if c.GSRN != gsrn {
			kept = append(kept, c)
		}
	}
	f.contracts = kept
	delete(f.windows, gsrn)
	return nil
}

func (f *fakeStore) GetSlidingWindow(_ context.Context, gsrn string) (*db.SlidingWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[gsrn]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := w
	out.MissingIntervals = append(interval.Set(nil), w.MissingIntervals...)
	return &out, nil
}

func (f *fakeStore) GetAllSlidingWindows(_ context.Context) ([]db.SlidingWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.SlidingWindow
	for _, w := range f.windows {
		w.MissingIntervals = append(interval.Set(nil), w.MissingIntervals...)
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeStore) SaveSlidingWindow(_ context.Context, w *db.SlidingWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveWindowLocked(w)
	return nil
}

func (f *fakeStore) saveWindowLocked(w *db.SlidingWindow) {
	w.Version++
	stored := *w
	stored.MissingIntervals = append(interval.Set(nil), w.MissingIntervals...)
	f.windows[w.GSRN] = stored
}

func (f *fakeStore) GetActiveSponsorships(_ context.Context, now time.Time) (map[string]db.Sponsorship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := make(map[string]db.Sponsorship)
	for gsrn, s := range f.sponsorships {
		if s.Active(now) {
			active[gsrn] = s
		}
	}
	return active, nil
}

func (f *fakeStore) UpsertSponsorship(_ context.Context, s *db.Sponsorship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sponsorships[s.GSRN] = *s
	return nil
}

func (f *fakeStore) DeleteSponsorship(_ context.Context, gsrn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sponsorships, gsrn)
	return nil
}

func (f *fakeStore) CreateCertificate(_ context.Context, c *db.Certificate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.certificates {
		existing := &f.certificates[i]
		if existing.GSRN == c.GSRN && existing.Period.Equal(c.Period) && existing.IssuedState != db.IssuedStateRejected {
			return repository.ErrCertificateExists
		}
	}
	f.certificates = append(f.certificates, *c)
	return nil
}

func (f *fakeStore) GetCertificateForPeriod(_ context.Context, gsrn string, period interval.Interval) (*db.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.certificates {
		c := f.certificates[i]
		if c.GSRN == gsrn && c.Period.Equal(period) && c.IssuedState != db.IssuedStateRejected {
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) FinalizeIssuance(_ context.Context, certificateID uuid.UUID, state db.IssuedState, w *db.SlidingWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.certificates {
		c := &f.certificates[i]
		if c.ID == certificateID {
			if c.IssuedState != db.IssuedStateCreated {
				return repository.ErrNotFound
			}
			c.IssuedState = state
			f.saveWindowLocked(w)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeStore) certificate(id uuid.UUID) *db.Certificate {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.certificates {
		if f.certificates[i].ID == id {
			c := f.certificates[i]
			return &c
		}
	}
	return nil
}

// fakeRegistry replays a scripted sequence of submission outcomes, then
// keeps returning the last one.
type fakeRegistry struct {
	mu     sync.Mutex
	script []registryOutcome
	calls  int
	cancel context.CancelFunc
	claims []registry.CertificateClaim
}

type registryOutcome struct {
	status registry.SubmissionStatus
	err    error
}

func (f *fakeRegistry) Submit(_ context.Context, claim registry.CertificateClaim) (registry.SubmissionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, claim)
	idx := f.calls
	f.calls++
	if f.cancel != nil {
		f.cancel()
	}
	if len(f.script) == 0 {
		return registry.StatusAccepted, nil
	}
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	out := f.script[idx]
	return out.status, out.err
}

// fakeMeasurements serves measurements from a fixed list, filtered to the
// requested range, and records each fetch.
type fakeMeasurements struct {
	mu      sync.Mutex
	data    []measurements.Measurement
	fetches []interval.Interval
	err     error
}

func (f *fakeMeasurements) FetchMeasurements(_ context.Context, _ string, from, to time.Time) ([]measurements.Measurement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.fetches = append(f.fetches, interval.Interval{From: from, To: to})
	var out []measurements.Measurement
	for _, m := range f.data {
		if m.From.Before(to) && from.Before(m.To) {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakePublisher records issuance events.
type fakePublisher struct {
	mu     sync.Mutex
	events []mq.IssuanceEvent
}

func (f *fakePublisher) PublishIssuanceEvent(_ context.Context, event mq.IssuanceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// fakeMeteringPoints answers ownership checks from a fixed set.
type fakeMeteringPoints struct {
	owned map[string]string // gsrn -> owning organization
}

func newFakeMeteringPoints(owned map[string]string) *fakeMeteringPoints {
	return &fakeMeteringPoints{owned: owned}
}

func (f *fakeMeteringPoints) IsOwnedAndEligible(_ context.Context, gsrn, organization string) (bool, error) {
	return f.owned[gsrn] == organization, nil
}
