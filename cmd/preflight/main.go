// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitepulse/internal/config"
	"github.com/hamed0406/sitepulse/internal/repo/postgres"
)

func main() {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	if err := config.LoadDotenv(os.Getenv("DOTENV_FILE")); err != nil {
		fail(err.Error())
	}
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fail(line)
		}
		os.Exit(1)
	}
	if cfgPath == "" {
		warn("CONFIG_FILE empty; using defaults plus environment.")
	} else {
		ok("CONFIG_FILE=" + cfgPath)
	}
	ok("API_ADDR=" + cfg.Addr)

	switch cfg.DataBackend {
	case "memory":
		warn("DATA_BACKEND=memory; monitors and subscribers are lost on restart.")
	case "file":
		if err := writable(cfg.DataDir); err != nil {
			fail("DATA_DIR not writable: " + err.Error())
		} else {
			ok("DATA_DIR=" + cfg.DataDir + " writable")
		}
	case "sqlite":
		if err := writable(filepath.Dir(cfg.SQLitePath)); err != nil {
			fail("SQLITE_PATH directory not writable: " + err.Error())
		} else {
			ok("SQLITE_PATH=" + cfg.SQLitePath)
		}
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s, err := postgres.New(ctx, cfg.DatabaseURL, zap.NewNop())
		cancel()
		if err != nil {
			fail("DATABASE_URL unreachable: " + err.Error())
		} else {
			s.Close()
			ok("DATABASE_URL reachable")
		}
	}

	if cfg.CheckInterval == 0 {
		warn("CHECK_INTERVAL_MS=0; the scheduler is disabled.")
	} else {
		ok("check interval " + cfg.CheckInterval.String() + ", grace " + cfg.GracePeriod.String())
	}
	if cfg.GracePeriod < cfg.CheckInterval {
		warn("grace period shorter than the check interval; outages confirm on the second failed check.")
	}

	channels := 0
	if cfg.SMTPEnabled() {
		channels++
		ok("SMTP " + cfg.SMTPHost + " configured")
		if cfg.SMTPUsername == "" {
			warn("SMTP_USERNAME empty; mail is sent without authentication.")
		}
	}
	if cfg.TelegramToken != "" {
		channels++
		ok("TELEGRAM_BOT_TOKEN present")
	}
	if channels == 0 {
		warn("no SMTP or Telegram configured; only Slack webhook subscribers will get alerts.")
	}
	if cfg.RenderEnabled {
		ok("render fallback enabled (playwright drivers must be installed)")
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}

func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
