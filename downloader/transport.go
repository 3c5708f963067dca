package downloader

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// TransportConfig controls the HTTP transport shared by Probe and the Part
// Workers of a single download. A non-empty ProxyURL may be http://,
// https://, or socks5://.
type TransportConfig struct {
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	ProxyURL       string
}

// DefaultTransportConfig returns the 10s connect / 30s idle defaults.
// ConnectTimeout bounds dialing, the TLS handshake and the wait for response
// headers; IdleTimeout sets the TCP keep-alive period and how long an idle
// pooled connection is kept. No deadline applies to reading a response
// body, so a stalled body read is not timed out.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout: 10 * time.Second,
		IdleTimeout:    30 * time.Second,
	}
}

// NewTransport builds an *http.Transport for a download's shared *http.Client.
// Retry and backoff live in the worker's retry loop, not here.
func NewTransport(cfg TransportConfig) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.IdleTimeout,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		IdleConnTimeout:       cfg.IdleTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}

	if cfg.ProxyURL != "" {
		if err := configureProxy(transport, cfg.ProxyURL); err != nil {
			return nil, err
		}
	}

	return transport, nil
}

// configureProxy wires an http/https/socks5 proxy URL into transport.
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			auth = &proxy.Auth{User: parsed.User.Username()}
			if pw, ok := parsed.User.Password(); ok {
				auth.Password = pw
			}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("creating socks5 dialer: %w", err)
		}
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
	return nil
}
