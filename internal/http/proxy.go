package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
)

// Proxy modes accepted in config.ProxyMode.
const (
	ProxyModeNone   = "no-proxy"
	ProxyModeSystem = "system"
	ProxyModeBasic  = "basic"
	ProxyModeNTLM   = "ntlm"
)

// newBaseTransport returns the pooled transport every client starts from.
func newBaseTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64, // chunk requests fan out to a handful of hosts
		MaxConnsPerHost:       64,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
}

// configureProxy sets the proxy on tr according to cfg and returns the
// round tripper to use. NTLM mode wraps tr in a negotiator.
func configureProxy(tr *nethttp.Transport, cfg *config.Config, logger *logging.Logger) (nethttp.RoundTripper, error) {
	mode := strings.ToLower(cfg.ProxyMode)
	switch mode {
	case ProxyModeNone, "":
		tr.Proxy = nil
		return tr, nil

	case ProxyModeSystem:
		tr.Proxy = nethttp.ProxyFromEnvironment
		return tr, nil

	case ProxyModeBasic, ProxyModeNTLM:
		if cfg.ProxyHost == "" {
			logger.Warn().Str("mode", mode).Msg("Proxy host is missing - falling back to no-proxy mode")
			tr.Proxy = nil
			return tr, nil
		}
		if cfg.ProxyUser != "" && cfg.ProxyPassword == "" {
			logger.Warn().Msg("Proxy user configured but password missing - proxy auth disabled")
		}

		tr.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy, logger)
		if mode == ProxyModeNTLM {
			return ntlmssp.Negotiator{RoundTripper: tr}, nil
		}
		return tr, nil

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.ProxyMode)
	}
}

// buildProxyURL constructs a proxy URL from config
func buildProxyURL(cfg *config.Config) *url.URL {
	port := cfg.ProxyPort
	if port == 0 {
		port = 8080
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(cfg.ProxyHost, fmt.Sprint(port)),
	}

	// Empty password in URL causes auth failures with some proxies.
	if cfg.ProxyUser != "" && cfg.ProxyPassword != "" {
		proxyURL.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPassword)
	}
	return proxyURL
}

// proxyFuncWithBypass returns a proxy function honoring the NoProxy list
// (hosts, domains, CIDRs). An empty list proxies everything.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			logger.Debug().Str("host", req.URL.Host).Msg("Proxy bypass (direct connection)")
		}
		return result, err
	}
}

// proxyActive reports whether requests will go through a proxy.
func proxyActive(cfg *config.Config, getenv func(string) string) bool {
	switch strings.ToLower(cfg.ProxyMode) {
	case ProxyModeNone, "":
		return false
	case ProxyModeSystem:
		return getenv("HTTP_PROXY") != "" || getenv("HTTPS_PROXY") != "" ||
			getenv("http_proxy") != "" || getenv("https_proxy") != ""
	default:
		return cfg.ProxyHost != ""
	}
}
