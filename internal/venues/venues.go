// Package venues contains the exchange adapters that feed the funding
// aggregation pipeline. Each adapter normalizes one venue's perpetual
// listings into canonical FundingRate records.
package venues

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hldesk/hldesk/internal/domain"
)

// Adapter fetches and normalizes funding data from one venue. Adapters are
// stateless and idempotent; Fetch fails with a transport error on non-success
// responses or unparseable payloads.
type Adapter interface {
	Venue() domain.Venue
	Fetch(ctx context.Context) ([]domain.FundingRate, error)
}

// Per-request deadline for venue calls, so a slow venue cannot starve the
// poll loop.
const requestTimeout = 30 * time.Second

// client is the shared HTTP plumbing for venue adapters: a per-venue rate
// limiter and circuit breaker around a timeout-bounded http.Client.
type client struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func newClient(venue domain.Venue, perSec float64, burst int, log zerolog.Logger) *client {
	return &client{
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(venue),
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		log: log.With().Str("venue", string(venue)).Logger(),
	}
}

// getJSON performs a rate-limited, breaker-guarded GET and decodes the body.
func (c *client) getJSON(ctx context.Context, url string, out interface{}) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// postJSON performs a rate-limited, breaker-guarded POST with a JSON body.
func (c *client) postJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, payload, out)
}

func (c *client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(payload))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return nil, nil
	})
	return err
}

// parseFloat converts venue string numerics, returning 0 for empty or
// malformed values.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// nowMs is the observation clock, overridable in tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }
