package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"jarvis/internal/metrics"
)

// retryPolicy bounds the retries of one provider call. Transient failures
// are network errors, 429 and 5xx.
type retryPolicy struct {
	Attempts int           // retries after the first try
	Base     time.Duration // backoff is Base*n² plus up to 50% jitter
	MaxWait  time.Duration // cap for Retry-After and computed backoff
}

var defaultRetry = retryPolicy{Attempts: 3, Base: time.Second, MaxWait: 20 * time.Second}

// sleepCtx is swapped in tests.
var sleepCtx = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// statusError is a non-2xx answer kept after the last retry.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func transient(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// wait returns the pause before retry n (1-based), preferring the server's
// Retry-After seconds when present.
func (p retryPolicy) wait(n int, resp *http.Response) time.Duration {
	d := time.Duration(n*n) * p.Base
	d += time.Duration(rand.Int64N(int64(d/2) + 1))
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			d = time.Duration(secs) * time.Second
		}
	}
	return min(d, p.MaxWait)
}

// doWithRetry sends the request built by buildReq until it gets a
// non-transient answer or the policy is exhausted. The caller closes the
// returned body.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	return defaultRetry.do(ctx, client, buildReq, logger)
}

func (p retryPolicy) do(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			d := p.wait(attempt, lastResp)
			metrics.LLMRetries.Inc()
			logger.Warn("retrying provider request", "attempt", attempt+1, "wait", d, "err", lastErr)
			if err := sleepCtx(ctx, d); err != nil {
				return nil, err
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, lastResp = err, nil
		case transient(resp.StatusCode):
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr, lastResp = &statusError{Code: resp.StatusCode, Body: string(body)}, resp
		default:
			return resp, nil
		}

		if attempt >= p.Attempts {
			return nil, fmt.Errorf("gave up after %d attempts: %w", attempt+1, lastErr)
		}
	}
}
