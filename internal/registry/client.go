package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/interval"
)

// SubmissionStatus is the registry's answer to an issuance request.
type SubmissionStatus string

const (
	// StatusAccepted means the ledger durably accepted the claim.
	StatusAccepted SubmissionStatus = "accepted"
	// StatusStillProcessing means the ledger transaction has not settled
	// yet; the caller should poll again.
	StatusStillProcessing SubmissionStatus = "processing"
	// StatusFailed means the ledger rejected or lost the transaction.
	StatusFailed SubmissionStatus = "failed"
)

// CertificateClaim is the issuance request sent to the registry. The
// blinding value is the commitment randomness hiding the quantity on the
// ledger.
type CertificateClaim struct {
	CertificateID uuid.UUID         `json:"certificate_id"`
	GSRN          string            `json:"gsrn"`
	GridArea      string            `json:"grid_area"`
	Period        interval.Interval `json:"period"`
	Quantity      uint64            `json:"quantity"`
	BlindingValue []byte            `json:"blinding_value"`
	Owner         string            `json:"owner"`
	Technology    *db.Technology    `json:"technology,omitempty"`
}

// Client talks to the registry connector over HTTP. It performs a single
// submission attempt per call; the issuance pipeline owns the tiered
// retry policy.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a registry connector client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type submitResponse struct {
	Status SubmissionStatus `json:"status"`
}

// Submit sends one issuance claim to the registry and reports the
// ledger's decision. Transport and server errors are returned as errors;
// the pipeline treats them as transient failures.
func (c *Client) Submit(ctx context.Context, claim CertificateClaim) (SubmissionStatus, error) {
	body, err := json.Marshal(claim)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claim: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/claims", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("registry returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode registry response: %w", err)
	}

	switch parsed.Status {
	case StatusAccepted, StatusStillProcessing, StatusFailed:
		return parsed.Status, nil
	default:
		return "", fmt.Errorf("registry returned unknown status %q", parsed.Status)
	}
}
