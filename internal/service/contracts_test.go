package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/repository"
	"github.com/energyorigin/certificate-worker/internal/service"
)

func newContractService(store *fakeStore, points *fakeMeteringPoints) *service.ContractService {
	return service.NewContractService(store, points, zap.NewNop())
}

func createRequest(gsrn string) service.CreateContractRequest {
	return service.CreateContractRequest{
		GSRN:              gsrn,
		GridArea:          "DK1",
		MeteringPointType: db.MeteringPointProduction,
		Owner:             "org-1",
		StartDate:         hoursAgo(48),
		RecipientID:       uuid.New(),
	}
}

func TestCreateContract_RejectsMalformedGSRN(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	for _, bad := range []string{"", "12345", "57131310000001111x", "571313100000011110"} {
		_, err := svc.CreateContract(context.Background(), createRequest(bad))
		if !errors.Is(err, service.ErrInvalidGSRN) {
			t.Errorf("GSRN %q: expected ErrInvalidGSRN, got %v", bad, err)
		}
	}
}

func TestCreateContract_RejectsInvertedPeriod(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	req := createRequest(gsrnA)
	req.EndDate = timePtr(req.StartDate)
	if _, err := svc.CreateContract(context.Background(), req); !errors.Is(err, service.ErrInvalidPeriod) {
		t.Errorf("Expected ErrInvalidPeriod for zero-length period, got %v", err)
	}

	req.EndDate = timePtr(req.StartDate.Add(-time.Hour))
	if _, err := svc.CreateContract(context.Background(), req); !errors.Is(err, service.ErrInvalidPeriod) {
		t.Errorf("Expected ErrInvalidPeriod for inverted period, got %v", err)
	}
}

func TestCreateContract_RejectsUnownedMeteringPoint(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-2"})
	svc := newContractService(store, points)

	_, err := svc.CreateContract(context.Background(), createRequest(gsrnA))
	if !errors.Is(err, service.ErrNotOwned) {
		t.Errorf("Expected ErrNotOwned, got %v", err)
	}
}

func TestCreateContract_AssignsSequentialContractNumbers(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	first := createRequest(gsrnA)
	first.StartDate = hoursAgo(100)
	first.EndDate = timePtr(hoursAgo(60))
	c1, err := svc.CreateContract(context.Background(), first)
	if err != nil {
		t.Fatalf("First create failed: %v", err)
	}

	second := createRequest(gsrnA)
	second.StartDate = hoursAgo(50)
	c2, err := svc.CreateContract(context.Background(), second)
	if err != nil {
		t.Fatalf("Second create failed: %v", err)
	}

	if c1.ContractNumber != 0 || c2.ContractNumber != 1 {
		t.Errorf("Expected contract numbers 0 and 1, got %d and %d", c1.ContractNumber, c2.ContractNumber)
	}
}

func TestCreateContract_RejectsOverlapWithOpenEndedContract(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	if _, err := svc.CreateContract(context.Background(), createRequest(gsrnA)); err != nil {
		t.Fatalf("First create failed: %v", err)
	}

	later := createRequest(gsrnA)
	later.StartDate = hoursAgo(10)
	if _, err := svc.CreateContract(context.Background(), later); !errors.Is(err, repository.ErrOverlappingContract) {
		t.Errorf("Expected ErrOverlappingContract against open-ended contract, got %v", err)
	}
}

func TestCreateContract_AllowsAbuttingPeriods(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	boundary := hoursAgo(24)

	first := createRequest(gsrnA)
	first.StartDate = hoursAgo(48)
	first.EndDate = timePtr(boundary)
	if _, err := svc.CreateContract(context.Background(), first); err != nil {
		t.Fatalf("First create failed: %v", err)
	}

	// Half-open ranges: a contract starting exactly where the previous
	// one ends does not overlap.
	second := createRequest(gsrnA)
	second.StartDate = boundary
	if _, err := svc.CreateContract(context.Background(), second); err != nil {
		t.Errorf("Expected abutting contract to be accepted, got %v", err)
	}
}

func TestCreateContract_ConcurrentCreatesYieldOneWinner(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	const attempts = 10

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateContract(context.Background(), createRequest(gsrnA))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, repository.ErrOverlappingContract):
				conflicts++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("Expected exactly one winner, got %d", created)
	}
	if conflicts != attempts-1 {
		t.Errorf("Expected %d conflicts, got %d", attempts-1, conflicts)
	}

	stored, _ := store.GetContractsByGSRN(context.Background(), gsrnA)
	if len(stored) != 1 {
		t.Errorf("Expected one stored contract, got %d", len(stored))
	}
}

func TestSetEndDate_TruncatesOpenEndedContract(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	c, err := svc.CreateContract(context.Background(), createRequest(gsrnA))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	end := testNow.Add(24 * time.Hour)
	if err := svc.SetEndDate(context.Background(), gsrnA, c.ContractNumber, "org-1", &end, testNow); err != nil {
		t.Fatalf("SetEndDate failed: %v", err)
	}

	stored, err := store.GetContract(context.Background(), gsrnA, c.ContractNumber)
	if err != nil {
		t.Fatalf("GetContract failed: %v", err)
	}
	if stored.EndDate == nil || !stored.EndDate.Equal(end) {
		t.Errorf("Expected end date %v, got %v", end, stored.EndDate)
	}
}

func TestSetEndDate_RecipientMayEdit(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	req := createRequest(gsrnA)
	c, err := svc.CreateContract(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	end := testNow.Add(24 * time.Hour)
	if err := svc.SetEndDate(context.Background(), gsrnA, c.ContractNumber, req.RecipientID.String(), &end, testNow); err != nil {
		t.Errorf("Expected recipient to be authorized, got %v", err)
	}
}

func TestSetEndDate_RejectsThirdParty(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	c, err := svc.CreateContract(context.Background(), createRequest(gsrnA))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	end := testNow.Add(24 * time.Hour)
	err = svc.SetEndDate(context.Background(), gsrnA, c.ContractNumber, "org-other", &end, testNow)
	if !errors.Is(err, service.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestSetEndDate_RejectsExpiredContract(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	req := createRequest(gsrnA)
	req.StartDate = hoursAgo(48)
	req.EndDate = timePtr(hoursAgo(24))
	c, err := svc.CreateContract(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	end := testNow.Add(24 * time.Hour)
	err = svc.SetEndDate(context.Background(), gsrnA, c.ContractNumber, "org-1", &end, testNow)
	if !errors.Is(err, service.ErrContractExpired) {
		t.Errorf("Expected ErrContractExpired, got %v", err)
	}
}

func TestSetEndDate_RejectsEndBeforeStart(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	req := createRequest(gsrnA)
	req.StartDate = hoursAgo(10)
	c, err := svc.CreateContract(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	end := hoursAgo(12)
	err = svc.SetEndDate(context.Background(), gsrnA, c.ContractNumber, "org-1", &end, testNow)
	if !errors.Is(err, service.ErrInvalidPeriod) {
		t.Errorf("Expected ErrInvalidPeriod, got %v", err)
	}
}

func TestSetEndDate_RejectsOverlapWithSibling(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	first := createRequest(gsrnA)
	first.StartDate = hoursAgo(48)
	first.EndDate = timePtr(hoursAgo(24))
	c1, err := svc.CreateContract(context.Background(), first)
	if err != nil {
		t.Fatalf("First create failed: %v", err)
	}

	second := createRequest(gsrnA)
	second.StartDate = hoursAgo(24)
	second.EndDate = timePtr(testNow.Add(24 * time.Hour))
	if _, err := svc.CreateContract(context.Background(), second); err != nil {
		t.Fatalf("Second create failed: %v", err)
	}

	// Stretching the first contract into the second must be refused.
	// The first contract has expired, so pick a now inside its period.
	within := hoursAgo(30)
	end := hoursAgo(20)
	err = svc.SetEndDate(context.Background(), gsrnA, c1.ContractNumber, "org-1", &end, within)
	if !errors.Is(err, repository.ErrOverlappingContract) {
		t.Errorf("Expected ErrOverlappingContract, got %v", err)
	}
}

func TestSetEndDate_UnknownContract(t *testing.T) {
	store := newFakeStore()
	points := newFakeMeteringPoints(map[string]string{gsrnA: "org-1"})
	svc := newContractService(store, points)

	end := testNow.Add(time.Hour)
	err := svc.SetEndDate(context.Background(), gsrnA, 3, "org-1", &end, testNow)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
