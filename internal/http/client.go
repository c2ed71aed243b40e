// Package http builds the HTTP clients used to reach content servers:
// proxy support, connection pooling, optional request throttling and
// retry classification.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
)

// NewClient creates the HTTP client for chunk and manifest downloads.
//
//   - Proxy support per cfg.ProxyMode (system, basic, ntlm) with NoProxy bypass
//   - Large connection pool shared by all download workers
//   - HTTP/2 unless a proxy is active (DISABLE_HTTP2=true forces HTTP/1.1,
//     FORCE_HTTP2=true keeps it through a proxy)
//   - Throttling when cfg.RequestsPerSecond > 0
//
// Chunks are already compressed, so transport compression is disabled.
func NewClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	logger = logging.OrNop(logger)
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}

	tr := newBaseTransport()
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	disableHTTP2 := os.Getenv("DISABLE_HTTP2") == "true"
	if proxyActive(cfg, os.Getenv) && os.Getenv("FORCE_HTTP2") != "true" {
		// Proxies often break HTTP/2 multiplexing mid-transfer.
		disableHTTP2 = true
	}
	if disableHTTP2 {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	rt, err := configureProxy(tr, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond > 0 {
		rt = NewThrottledTransport(rt, cfg.RequestsPerSecond, 0)
	}

	return &nethttp.Client{
		Transport: rt,
		Timeout:   constants.HTTPRequestTimeout,
	}, nil
}
