package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	prev := sleepCtx
	sleepCtx = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleepCtx = prev })
	return &waits
}

func get(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestRetry_RecoversFromTransientStatus(t *testing.T) {
	waits := noSleep(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	resp, err := doWithRetry(context.Background(), srv.Client(), get(srv.URL), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || hits.Load() != 3 {
		t.Fatalf("status %d after %d hits", resp.StatusCode, hits.Load())
	}
	if len(*waits) != 2 {
		t.Fatalf("expected 2 waits, got %v", *waits)
	}
}

func TestRetry_HonoursRetryAfter(t *testing.T) {
	waits := noSleep(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := doWithRetry(context.Background(), srv.Client(), get(srv.URL), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(*waits) != 1 || (*waits)[0] != 7*time.Second {
		t.Fatalf("unexpected waits %v", *waits)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	noSleep(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	p := retryPolicy{Attempts: 2, Base: time.Millisecond, MaxWait: time.Second}
	_, err := p.do(context.Background(), srv.Client(), get(srv.URL), testLogger())
	var se *statusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Body != "upstream down" {
		t.Fatalf("unexpected error %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestRetry_WaitIsCapped(t *testing.T) {
	p := retryPolicy{Attempts: 5, Base: 10 * time.Second, MaxWait: 15 * time.Second}
	if d := p.wait(3, nil); d != 15*time.Second {
		t.Fatalf("wait not capped: %v", d)
	}
	if d := p.wait(1, nil); d < 10*time.Second || d > 15*time.Second {
		t.Fatalf("unexpected first wait %v", d)
	}
}
