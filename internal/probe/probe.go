package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitepulse/internal/metrics"
)

// ErrorKind classifies why a probe failed.
type ErrorKind string

const (
	ErrNone       ErrorKind = ""
	ErrTimeout    ErrorKind = "timeout"
	ErrDNS        ErrorKind = "dns"
	ErrConnect    ErrorKind = "connect"
	ErrTLS        ErrorKind = "tls"
	ErrTransport  ErrorKind = "transport"
	ErrInvalidURL ErrorKind = "invalid_url"
	ErrHTTPStatus ErrorKind = "http_status"
	ErrRender     ErrorKind = "render"
	ErrInternal   ErrorKind = "internal"
)

// Transport reports whether the failure happened before any HTTP response
// was received.
func (k ErrorKind) Transport() bool {
	switch k {
	case ErrTimeout, ErrDNS, ErrConnect, ErrTLS, ErrTransport:
		return true
	}
	return false
}

// Outcome is the result of a single probe.
//
// HTTPStatus is 0 when no response was received. LatencyMS is nil on
// failure.
type Outcome struct {
	OK           bool
	HTTPStatus   int
	LatencyMS    *int64
	Err          ErrorKind
	Message      string
	UsedFallback bool
}

// Checker performs a single check for a given target URL.
type Checker interface {
	Check(ctx context.Context, target string) Outcome
}

type CheckerFunc func(ctx context.Context, target string) Outcome

func (f CheckerFunc) Check(ctx context.Context, target string) Outcome { return f(ctx, target) }

func failure(kind ErrorKind, status int, msg string) Outcome {
	return Outcome{OK: false, HTTPStatus: status, Err: kind, Message: msg}
}

func latencySince(start time.Time) *int64 {
	ms := time.Since(start).Milliseconds()
	return &ms
}

// Prober runs the primary checker and, when it fails at the transport
// level, a fallback checker. It never panics.
type Prober struct {
	Primary  Checker
	Fallback Checker // nil disables the fallback
	Logger   *zap.Logger

	// DiagnoseDNS adds the resolver class to DNS failure messages.
	DiagnoseDNS bool
}

func NewProber(primary, fallback Checker, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{Primary: primary, Fallback: fallback, Logger: logger}
}

func (p *Prober) Check(ctx context.Context, target string) Outcome {
	start := time.Now()
	out := p.check(ctx, target)
	metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	result := "down"
	if out.OK {
		result = "up"
	}
	metrics.ProbesTotal.WithLabelValues(result, string(out.Err)).Inc()
	return out
}

func (p *Prober) check(ctx context.Context, target string) Outcome {
	out := safeCheck(ctx, p.Primary, target)
	if out.OK || p.Fallback == nil || !out.Err.Transport() {
		return p.diagnose(ctx, target, out)
	}

	fb := safeCheck(ctx, p.Fallback, target)
	metrics.ObserveFallback(fb.OK)
	if fb.OK {
		fb.UsedFallback = true
		p.Logger.Info("probe_fallback_recovered",
			zap.String("url", target),
			zap.String("primary_error", string(out.Err)),
			zap.String("primary_message", out.Message),
		)
		return fb
	}

	out.UsedFallback = true
	out.Message = fmt.Sprintf("%s; fallback: %s", out.Message, fb.Message)
	return p.diagnose(ctx, target, out)
}

func (p *Prober) diagnose(ctx context.Context, target string, out Outcome) Outcome {
	if !p.DiagnoseDNS || out.Err != ErrDNS {
		return out
	}
	dns := CheckDNS(ctx, extractHost(target))
	p.Logger.Info("dns_check",
		zap.String("domain", dns.Domain),
		zap.String("class", string(dns.Class)),
		zap.Bool("has_a_or_aaaa", dns.HasAOrAAAA),
		zap.Strings("nameservers", dns.Nameservers),
		zap.String("cname", dns.CNAME),
		zap.String("resolver_error", dns.ResolverError),
	)
	out.Message = fmt.Sprintf("%s dns=%s", out.Message, dns.Class)
	return out
}

func safeCheck(ctx context.Context, c Checker, target string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failure(ErrInternal, 0, fmt.Sprintf("checker panic: %v", r))
		}
	}()
	return c.Check(ctx, target)
}
