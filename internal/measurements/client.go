package measurements

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Quality marks how a measurement was obtained. Anything other than
// Measured is treated as a gap by the issuance pipeline.
type Quality string

const (
	QualityMeasured   Quality = "measured"
	QualityEstimated  Quality = "estimated"
	QualityCalculated Quality = "calculated"
	QualityRevised    Quality = "revised"
)

// Measurement is one metered period for a GSRN.
type Measurement struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Quantity uint64    `json:"quantity"`
	Quality  Quality   `json:"quality"`
}

// Client fetches measurements from the external measurement source.
// Transient transport failures are retried with exponential backoff
// before the error surfaces to the pipeline.
type Client struct {
	baseURL    string
	client     *http.Client
	maxElapsed time.Duration
	logger     *zap.Logger
}

// NewClient creates a measurement source client.
func NewClient(baseURL string, timeout, maxRetryElapsed time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		maxElapsed: maxRetryElapsed,
		logger:     logger,
	}
}

// FetchMeasurements returns all measurements for gsrn within [from, to),
// ordered by period start.
func (c *Client) FetchMeasurements(ctx context.Context, gsrn string, from, to time.Time) ([]Measurement, error) {
	endpoint := fmt.Sprintf("%s/v1/measurements?%s", c.baseURL, url.Values{
		"gsrn": {gsrn},
		"from": {from.UTC().Format(time.RFC3339)},
		"to":   {to.UTC().Format(time.RFC3339)},
	}.Encode())

	var result []Measurement
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("measurement request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("measurement source returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("measurement source returned status %d: %s", resp.StatusCode, string(raw)))
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode measurements: %w", err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed
	notify := func(err error, next time.Duration) {
		c.logger.Warn("retrying measurement fetch",
			zap.Error(err),
			zap.String("gsrn", gsrn),
			zap.Duration("backoff", next),
		)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return result, nil
}
