package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitepulse/internal/config"
	"github.com/hamed0406/sitepulse/internal/httpapi"
	"github.com/hamed0406/sitepulse/internal/logging"
	"github.com/hamed0406/sitepulse/internal/notify"
	"github.com/hamed0406/sitepulse/internal/probe"
	"github.com/hamed0406/sitepulse/internal/repo"
	"github.com/hamed0406/sitepulse/internal/repo/file"
	"github.com/hamed0406/sitepulse/internal/repo/memory"
	"github.com/hamed0406/sitepulse/internal/repo/postgres"
	"github.com/hamed0406/sitepulse/internal/repo/sqlite"
	"github.com/hamed0406/sitepulse/internal/scheduler"
	"github.com/hamed0406/sitepulse/internal/status"
)

func main() {
	if err := config.LoadDotenv(os.Getenv("DOTENV_FILE")); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("api_exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	store := repo.New(logger, backend, cfg.HistoryCap)
	if err := store.Load(ctx); err != nil {
		return err
	}

	prober, closeProber := buildProber(cfg, logger)
	defer closeProber()

	machine := status.NewMachine(cfg.GracePeriod, cfg.Heartbeat, prober)

	router, err := buildRouter(cfg)
	if err != nil {
		return err
	}
	logger.Info("alert_channels", zap.Any("channels", router.Channels()))
	alerts := scheduler.NewDispatcher(logger, router, cfg.AlertTimeout, cfg.AlertConcurrency)

	sched := scheduler.New(logger, store, prober, machine, alerts,
		cfg.CheckInterval, checkBudget(cfg), cfg.MaxConcurrentChecks)

	api := httpapi.NewServer(logger, store, prober)
	api.PersistTimeout = cfg.PersistTimeout
	api.OnSaveError = sched.MarkDirty

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(cfg.CheckRPM, cfg.CheckBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.String("backend", cfg.DataBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("api_shutdown")
	case err := <-srvErr:
		if err != nil {
			stop()
			<-schedDone
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_error", zap.Error(err))
	}
	<-schedDone

	if err := store.Flush(shutdownCtx); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	logger.Info("api_stopped")
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Backend, func(), error) {
	noop := func() {}
	switch cfg.DataBackend {
	case "memory":
		return memory.New(), noop, nil
	case "file":
		s, err := file.New(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
}

func buildProber(cfg config.Config, logger *zap.Logger) (*probe.Prober, func()) {
	var primary probe.Checker = probe.NewHTTPChecker(probe.HTTPConfig{
		Timeout:         cfg.ProbeTimeout,
		UserAgent:       cfg.UserAgent,
		AcceptAnyStatus: cfg.AcceptAnyStatus,
	})
	if cfg.ProbeRetries > 0 {
		primary = &probe.RetryChecker{Inner: primary, Attempts: cfg.ProbeRetries + 1, Backoff: cfg.RetryBackoff}
	}

	closeFn := func() {}
	var fallback probe.Checker
	if cfg.RenderEnabled {
		rc := probe.NewRenderChecker(cfg.RenderTimeout, cfg.RenderConcurrency, logger)
		rc.AcceptAnyStatus = cfg.AcceptAnyStatus
		fallback = rc
		closeFn = func() {
			if err := rc.Close(); err != nil {
				logger.Warn("render_close_error", zap.Error(err))
			}
		}
	}

	p := probe.NewProber(primary, fallback, logger)
	p.DiagnoseDNS = cfg.DiagnoseDNS
	return p, closeFn
}

// checkBudget bounds one monitor's check: the probe with its retries and
// fallback, twice over for the confirmation re-probe.
func checkBudget(cfg config.Config) time.Duration {
	attempts := time.Duration(cfg.ProbeRetries + 1)
	one := attempts*cfg.ProbeTimeout + (attempts-1)*cfg.RetryBackoff
	if cfg.RenderEnabled {
		one += cfg.RenderTimeout
	}
	return 2*one + 5*time.Second
}

func buildRouter(cfg config.Config) (*notify.Router, error) {
	r := &notify.Router{Slack: notify.NewSlack(cfg.AlertTimeout)}
	if cfg.SMTPEnabled() {
		s, err := notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.AlertTimeout,
		})
		if err != nil {
			return nil, err
		}
		r.Email = s
	}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken)
		if err != nil {
			return nil, err
		}
		r.Telegram = tg
	}
	return r, nil
}
