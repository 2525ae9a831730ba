package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/metrics"
	"github.com/hamed0406/sitepulse/internal/notify"
	"github.com/hamed0406/sitepulse/internal/probe"
)

// Alert is one confirmed transition to announce.
type Alert struct {
	Monitor   domain.Monitor
	Kind      domain.EventKind
	Outcome   probe.Outcome
	DownSince *time.Time // start of the episode, for both kinds
	At        time.Time
}

func (a Alert) state() string {
	if a.Kind == domain.EventDown {
		return "DOWN"
	}
	return "UP"
}

func (a Alert) Subject() string {
	return fmt.Sprintf("Monitor %s: %s", a.state(), a.Monitor.Name)
}

func (a Alert) Body() string {
	httpTxt := "n/a"
	if a.Outcome.HTTPStatus != 0 {
		httpTxt = fmt.Sprintf("%d", a.Outcome.HTTPStatus)
	}
	latencyTxt := "n/a"
	if a.Outcome.LatencyMS != nil {
		latencyTxt = fmt.Sprintf("%d ms", *a.Outcome.LatencyMS)
	}
	reason := a.Outcome.Message
	if a.Outcome.Err != probe.ErrNone {
		reason = fmt.Sprintf("%s (%s)", a.Outcome.Message, a.Outcome.Err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The service \"%s\" (%s) is now %s.\n\n", a.Monitor.Name, a.Monitor.URL, a.state())
	fmt.Fprintf(&b, "URL: %s\nHTTP: %s\nLatency: %s\nReason: %s\n", a.Monitor.URL, httpTxt, latencyTxt, reason)
	if a.DownSince != nil {
		if a.Kind == domain.EventDown {
			fmt.Fprintf(&b, "Down since: %s\n", a.DownSince.UTC().Format(time.RFC3339))
		} else {
			fmt.Fprintf(&b, "Downtime: %s\n", a.At.Sub(*a.DownSince).Round(time.Second))
		}
	}
	fmt.Fprintf(&b, "Checked: %s", a.At.UTC().Format(time.RFC3339))
	return b.String()
}

// DispatchReport counts the outcome of one fan-out.
type DispatchReport struct {
	Recipients int
	Delivered  int
	Failed     int
}

// Dispatcher fans an alert out to every subscriber. Deliveries are
// independent: a failed send is logged and counted, never retried.
type Dispatcher struct {
	Logger      *zap.Logger
	Transport   notify.Transport
	SendTimeout time.Duration
	Concurrency int
}

func NewDispatcher(logger *zap.Logger, transport notify.Transport, sendTimeout time.Duration, concurrency int) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	if concurrency < 1 {
		concurrency = 8
	}
	return &Dispatcher{
		Logger:      logger,
		Transport:   transport,
		SendTimeout: sendTimeout,
		Concurrency: concurrency,
	}
}

// Dispatch returns once every send has been attempted. Sends are not
// cancelled by ctx; each is bounded by SendTimeout.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert, subs []domain.Subscriber) DispatchReport {
	recipients := dedupe(subs, d.Logger)
	rep := DispatchReport{Recipients: len(recipients)}
	if len(recipients) == 0 {
		d.Logger.Info("alert_no_subscribers",
			zap.String("monitor_id", string(a.Monitor.ID)),
			zap.String("kind", string(a.Kind)),
		)
		return rep
	}

	subject, body := a.Subject(), a.Body()
	base := context.WithoutCancel(ctx)

	var delivered, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(d.Concurrency)
	for _, rcpt := range recipients {
		rcpt := rcpt
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(base, d.SendTimeout)
			defer cancel()

			ch := string(domain.ChannelOf(rcpt))
			if err := d.Transport.Send(sctx, rcpt, subject, body); err != nil {
				failed.Add(1)
				metrics.ObserveAlert(string(a.Kind), ch, false)
				d.Logger.Warn("alert_send_failed",
					zap.String("monitor_id", string(a.Monitor.ID)),
					zap.String("kind", string(a.Kind)),
					zap.String("recipient", rcpt),
					zap.Error(err),
				)
				return nil
			}
			delivered.Add(1)
			metrics.ObserveAlert(string(a.Kind), ch, true)
			return nil
		})
	}
	_ = g.Wait()

	rep.Delivered = int(delivered.Load())
	rep.Failed = int(failed.Load())
	d.Logger.Info("alert_dispatched",
		zap.String("monitor_id", string(a.Monitor.ID)),
		zap.String("url", a.Monitor.URL),
		zap.String("kind", string(a.Kind)),
		zap.Int("recipients", rep.Recipients),
		zap.Int("delivered", rep.Delivered),
		zap.Int("failed", rep.Failed),
	)
	return rep
}

// dedupe collapses subscribers to distinct normalized addresses, keeping
// first-seen order.
func dedupe(subs []domain.Subscriber, logger *zap.Logger) []string {
	seen := make(map[string]struct{}, len(subs))
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		addr, _, err := domain.NormalizeAddress(s.Address)
		if err != nil {
			logger.Warn("alert_bad_recipient", zap.String("recipient", s.Address), zap.Error(err))
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
