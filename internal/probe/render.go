package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const DefaultRenderTimeout = 15 * time.Second

// RenderChecker loads the target in headless Chromium. It is the fallback
// for sites that refuse plain HTTP clients but serve real browsers.
//
// The browser is started on first use and shared by all checks; each
// check gets its own browser context.
type RenderChecker struct {
	Timeout         time.Duration
	AcceptAnyStatus bool
	Logger          *zap.Logger

	sem         chan struct{}
	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewRenderChecker(timeout time.Duration, maxConcurrent int, logger *zap.Logger) *RenderChecker {
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderChecker{
		Timeout: timeout,
		Logger:  logger,
		sem:     make(chan struct{}, maxConcurrent),
	}
}

func (r *RenderChecker) ensureInitialized() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}

	r.Logger.Info("render_init")
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launch chromium: %w", err)
	}
	r.pw = pw
	r.browser = browser
	r.initialized = true
	return nil
}

func (r *RenderChecker) Check(ctx context.Context, target string) Outcome {
	if err := ValidateTarget(target); err != nil {
		return failure(ErrInvalidURL, 0, err.Error())
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return failure(ErrTimeout, 0, "render: "+ctx.Err().Error())
	}

	if err := r.ensureInitialized(); err != nil {
		return failure(ErrRender, 0, err.Error())
	}

	start := time.Now()
	bctx, err := r.browser.NewContext()
	if err != nil {
		return failure(ErrRender, 0, fmt.Sprintf("new context: %v", err))
	}
	defer func() { _ = bctx.Close() }()

	page, err := bctx.NewPage()
	if err != nil {
		return failure(ErrRender, 0, fmt.Sprintf("new page: %v", err))
	}
	defer func() { _ = page.Close() }()

	timeoutMs := float64(r.Timeout.Milliseconds())
	resp, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   &timeoutMs,
	})
	if err != nil {
		kind := ErrRender
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			kind = ErrTimeout
		}
		return failure(kind, 0, fmt.Sprintf("render: %v", err))
	}
	if resp == nil {
		return failure(ErrRender, 0, "render: no response")
	}

	status := resp.Status()
	if r.AcceptAnyStatus || status < 400 {
		return Outcome{OK: true, HTTPStatus: status, LatencyMS: latencySince(start), Message: fmt.Sprintf("%d %s", status, resp.StatusText())}
	}
	return failure(ErrHTTPStatus, status, fmt.Sprintf("%d %s", status, resp.StatusText()))
}

// Close shuts the browser down if it was started.
func (r *RenderChecker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil
	}
	r.initialized = false
	if err := r.browser.Close(); err != nil {
		_ = r.pw.Stop()
		return err
	}
	return r.pw.Stop()
}
