package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
)

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.Transport.(*nethttp.Transport); !ok {
		t.Errorf("expected plain transport, got %T", client.Transport)
	}
	if client.Timeout <= 0 {
		t.Error("expected a request timeout")
	}
}

func TestNewClient_Throttled(t *testing.T) {
	cfg := config.Default()
	cfg.RequestsPerSecond = 5
	client, err := NewClient(&cfg, logging.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.Transport.(*ThrottledTransport); !ok {
		t.Errorf("expected ThrottledTransport, got %T", client.Transport)
	}
}

func TestNewClient_InvalidProxyMode(t *testing.T) {
	cfg := config.Default()
	cfg.ProxyMode = "carrier-pigeon"
	if _, err := NewClient(&cfg, nil); err == nil {
		t.Fatal("expected error for unsupported proxy mode")
	}
}

func TestThrottledTransport_LimitsRate(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	client := &nethttp.Client{Transport: NewThrottledTransport(nethttp.DefaultTransport, 20, 1)}

	start := time.Now()
	for i := 0; i < 5; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	// Burst 1 at 20 rps: four waits of ~50ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected throttling, 5 requests took %v", elapsed)
	}
	if hits.Load() != 5 {
		t.Errorf("expected 5 hits, got %d", hits.Load())
	}
}

func TestThrottledTransport_ContextCancelled(t *testing.T) {
	tr := NewThrottledTransport(nethttp.DefaultTransport, 0.001, 1)
	// Drain the single token.
	tr.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req, _ := nethttp.NewRequestWithContext(ctx, "GET", "http://127.0.0.1:1/", nil)
	_, err := tr.RoundTrip(req)
	if !errors.Is(err, ErrThrottleWait) {
		t.Fatalf("expected ErrThrottleWait, got %v", err)
	}
}

func TestNewRetryClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	rc := NewRetryClient(srv.Client(), 4, logging.Nop())
	rc.RetryWaitMin = time.Millisecond
	rc.RetryWaitMax = 2 * time.Millisecond

	resp, err := rc.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 || hits.Load() != 3 {
		t.Errorf("status %d after %d hits", resp.StatusCode, hits.Load())
	}
}

func TestNewRetryClient_NotFoundPassesThrough(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		hits.Add(1)
		nethttp.NotFound(w, r)
	}))
	defer srv.Close()

	rc := NewRetryClient(srv.Client(), 4, nil)
	resp, err := rc.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 || hits.Load() != 1 {
		t.Errorf("status %d after %d hits", resp.StatusCode, hits.Load())
	}
}
