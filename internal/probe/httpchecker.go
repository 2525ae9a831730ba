package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "sitepulse/1.0 (+uptime check)"

	maxDrainBytes = 64 * 1024
)

type HTTPConfig struct {
	Timeout         time.Duration
	UserAgent       string
	MaxIdleConns    int
	IdleConnTimeout time.Duration

	// AcceptAnyStatus treats every HTTP response as reachable.
	AcceptAnyStatus bool
}

// NewHTTPClient returns a reusable HTTP client for all checks.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: roundTripperWithUA{rt: transport, userAgent: cfg.UserAgent},
		Timeout:   cfg.Timeout,
	}
}

// roundTripperWithUA injects a User-Agent into every request.
type roundTripperWithUA struct {
	rt        http.RoundTripper
	userAgent string
}

func (r roundTripperWithUA) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	return r.rt.RoundTrip(req)
}

// HTTPChecker is the primary probe: a GET that follows redirects.
type HTTPChecker struct {
	Client          *http.Client
	Timeout         time.Duration
	AcceptAnyStatus bool
}

func NewHTTPChecker(cfg HTTPConfig) *HTTPChecker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &HTTPChecker{
		Client:          NewHTTPClient(cfg),
		Timeout:         cfg.Timeout,
		AcceptAnyStatus: cfg.AcceptAnyStatus,
	}
}

func (h *HTTPChecker) Check(ctx context.Context, target string) Outcome {
	if err := ValidateTarget(target); err != nil {
		return failure(ErrInvalidURL, 0, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return failure(ErrInvalidURL, 0, err.Error())
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		kind := classifyHTTPError(err)
		return failure(kind, 0, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	lat := latencySince(start)
	if h.AcceptAnyStatus || (resp.StatusCode >= 200 && resp.StatusCode < 400) {
		return Outcome{OK: true, HTTPStatus: resp.StatusCode, LatencyMS: lat, Message: resp.Status}
	}
	return failure(ErrHTTPStatus, resp.StatusCode, resp.Status)
}

// ValidateTarget accepts absolute http and https URLs with a host.
func ValidateTarget(target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// classifyHTTPError maps a client error to a stable kind.
func classifyHTTPError(err error) ErrorKind {
	var (
		dnsErr      *net.DNSError
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidCert x509.CertificateInvalidError
		recordErr   tls.RecordHeaderError
		opErr       *net.OpError
		netErr      net.Error
	)
	switch {
	case errors.As(err, &dnsErr):
		return ErrDNS
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr),
		errors.As(err, &invalidCert), errors.As(err, &recordErr):
		return ErrTLS
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return ErrConnect
	case strings.Contains(err.Error(), "tls:"):
		return ErrTLS
	}
	return ErrTransport
}
