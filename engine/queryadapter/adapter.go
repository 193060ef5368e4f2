// Package queryadapter provides the reference implementation of the
// external query collaborator: given a batch of codes, it asks an upstream
// HTTP endpoint for each one's status and streams results back as they
// arrive, honouring cancellation and an optional backpressure guard.
package queryadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/scheduler"
	"github.com/czvisa/monitor/engine/store"
)

// Config tunes the HTTP adapter.
type Config struct {
	Endpoint   string
	Headless   bool
	Workers    int
	Retries    int
	HTTPClient *http.Client
}

// DefaultConfig returns sane defaults; Endpoint must still be supplied.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint: endpoint,
		Headless: true,
		Workers:  3,
		Retries:  2,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// HTTPAdapter is the reference query adapter. It implements
// scheduler.Adapter.
type HTTPAdapter struct {
	cfg     Config
	log     *zap.SugaredLogger
	pacing  *scheduler.PacingLimiter
	breaker *scheduler.CircuitBreaker
}

// New builds an HTTPAdapter. pacing may be nil to disable per-code pacing.
func New(cfg Config, log *zap.SugaredLogger, pacing *scheduler.PacingLimiter) *HTTPAdapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if pacing == nil {
		pacing = scheduler.NewPacingLimiter(0, 1)
	}
	return &HTTPAdapter{
		cfg:     cfg,
		log:     log,
		pacing:  pacing,
		breaker: scheduler.NewCircuitBreaker(5, 30*time.Second),
	}
}

type queryRequest struct {
	Code     string `json:"code"`
	Headless bool   `json:"headless"`
}

type queryResponse struct {
	Status string `json:"status"`
}

// QueryBatch dispatches codes one at a time (respecting pacing and the
// circuit breaker), reporting each result through onResult as soon as it is
// known. Codes left unqueried when ctx is cancelled are simply never
// reported — per contract, an uncompleted code is "not completed, not
// failed", not a synthetic failure.
func (a *HTTPAdapter) QueryBatch(ctx context.Context, codes []string, correlationID string, onResult func(code string, status store.Status, err error)) error {
	for _, code := range codes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := a.pacing.Wait(ctx); err != nil {
			return err
		}

		if !a.breaker.Allow() {
			onResult(code, store.StatusQueryFailed, fmt.Errorf("circuit breaker open for query endpoint"))
			continue
		}

		status, err := a.queryOne(ctx, code)
		if err != nil {
			a.breaker.RecordFailure()
			a.log.Warnw("query failed", "code", code, "correlation_id", correlationID, "error", err)
			onResult(code, store.StatusQueryFailed, err)
			continue
		}
		a.breaker.RecordSuccess()
		onResult(code, status, nil)
	}
	return nil
}

func (a *HTTPAdapter) queryOne(ctx context.Context, code string) (store.Status, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.Retries; attempt++ {
		status, err := a.doRequest(ctx, code)
		if err == nil {
			return status, nil
		}
		lastErr = err
	}
	return store.StatusQueryFailed, lastErr
}

func (a *HTTPAdapter) doRequest(ctx context.Context, code string) (store.Status, error) {
	body, err := json.Marshal(queryRequest{Code: code, Headless: a.cfg.Headless})
	if err != nil {
		return "", fmt.Errorf("marshal request for %s: %w", code, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", code, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query %s: upstream returned %d", code, resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response for %s: %w", code, err)
	}
	return normalizeStatus(out.Status), nil
}

func normalizeStatus(raw string) store.Status {
	switch store.Status(raw) {
	case store.StatusPending, store.StatusNotFound, store.StatusProceedings,
		store.StatusGranted, store.StatusRejected, store.StatusQueryFailed:
		return store.Status(raw)
	default:
		return store.StatusUnknown
	}
}
