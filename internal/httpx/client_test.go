package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastClient(maxRetries int) *Client {
	c := NewClient(time.Second, maxRetries)
	c.baseDelay = time.Millisecond
	return c
}

func TestDoRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := fastClient(2).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after retries", resp.StatusCode)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDoRetriesThrottling(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := fastClient(1).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after throttled retry", resp.StatusCode)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "not here")
	}))
	defer srv.Close()

	resp, err := fastClient(2).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want exactly 1", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil || string(body) != "not here" {
		t.Errorf("body = %q err=%v, want it readable on the final response", body, err)
	}
}

func TestRetryDelay(t *testing.T) {
	c := fastClient(3)

	throttled := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"2"}},
	}
	if got := c.retryDelay(0, throttled); got != 2*time.Second {
		t.Errorf("throttled delay = %v, want the Retry-After value", got)
	}

	serverErr := &http.Response{
		StatusCode: http.StatusInternalServerError,
		Header:     http.Header{"Retry-After": []string{"2"}},
	}
	if got := c.retryDelay(0, serverErr); got != c.baseDelay {
		t.Errorf("5xx delay = %v, want the base delay", got)
	}
	if got := c.retryDelay(2, serverErr); got != 4*c.baseDelay {
		t.Errorf("third-attempt delay = %v, want 4x the base delay", got)
	}
	if got := c.retryDelay(1, nil); got != 2*c.baseDelay {
		t.Errorf("network-error delay = %v, want 2x the base delay", got)
	}
}
