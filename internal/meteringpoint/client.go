package meteringpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Client asks the metering-point master-data service whether an
// organization owns a GSRN and whether the point is eligible for
// certificate issuance. Consulted at contract-creation time only.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates an ownership/eligibility client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type ownershipResponse struct {
	Owned    bool `json:"owned"`
	Eligible bool `json:"eligible"`
}

// IsOwnedAndEligible reports whether the organization owns the metering
// point and the point may have certificates issued for it.
func (c *Client) IsOwnedAndEligible(ctx context.Context, gsrn, organization string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/meteringpoints/%s/ownership?%s",
		c.baseURL, url.PathEscape(gsrn), url.Values{"organization": {organization}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("ownership request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("ownership service returned status %d", resp.StatusCode)
	}

	var parsed ownershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("failed to decode ownership response: %w", err)
	}
	return parsed.Owned && parsed.Eligible, nil
}
