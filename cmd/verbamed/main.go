// Command verbamed is the live medical transcription server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/verbamed/verbamed/internal/config"
	"github.com/verbamed/verbamed/internal/health"
	"github.com/verbamed/verbamed/internal/observe"
	"github.com/verbamed/verbamed/internal/resilience"
	"github.com/verbamed/verbamed/internal/server"
	"github.com/verbamed/verbamed/internal/session"
	"github.com/verbamed/verbamed/internal/store"
	"github.com/verbamed/verbamed/internal/store/mock"
	"github.com/verbamed/verbamed/internal/summary"
	"github.com/verbamed/verbamed/pkg/recognizer"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// caseStore is the persistence surface main wires together: both summary
// collaborator roles plus the health probe.
type caseStore interface {
	summary.Archive
	summary.TranscriptStore
	Ping(ctx context.Context) error
	Close()
}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Configuration + hot reload ────────────────────────────────────────────
	logLevel := new(slog.LevelVar)

	watcher, err := config.NewWatcher(*configPath, func(oldCfg, newCfg *config.Config) {
		diff := config.Diff(oldCfg, newCfg)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.AudioChanged || diff.SummarizerChanged {
			slog.Warn("audio or summarizer configuration changed; restart to apply")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "verbamed: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "verbamed: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("verbamed starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"backend", cfg.Recognizer.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Recognition backend ───────────────────────────────────────────────────
	rec, err := config.DefaultRegistry().CreateRecognizer(cfg.Recognizer)
	if err != nil {
		slog.Error("failed to create recognizer", "backend", cfg.Recognizer.Backend, "err", err)
		return 1
	}

	minWindow := cfg.Audio.MinWindow
	if minWindow <= 0 {
		minWindow = 500 * time.Millisecond
	}
	silence := cfg.Audio.SilenceThreshold
	if silence <= 0 {
		silence = 500
	}
	gated := recognizer.NewGated(rec, minWindow, int16(silence))

	// ── Persistence ───────────────────────────────────────────────────────────
	var st caseStore
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := store.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		st = pg
		slog.Info("postgres store connected")
	} else {
		st = mock.New()
		slog.Warn("no postgres_dsn configured; transcripts will not survive a restart")
	}
	defer st.Close()

	// ── Summarizer ────────────────────────────────────────────────────────────
	sessions := session.NewRegistry()

	var llm summary.Completer
	if cfg.Summarizer.Provider != "" {
		var opts []anyllmlib.Option
		if cfg.Summarizer.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.Summarizer.APIKey))
		}
		if cfg.Summarizer.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.Summarizer.BaseURL))
		}
		model, err := summary.NewAnyLLM(cfg.Summarizer.Provider, cfg.Summarizer.Model, opts...)
		if err != nil {
			slog.Error("failed to create summarizer model", "provider", cfg.Summarizer.Provider, "err", err)
			return 1
		}
		llm = resilience.NewGuardedCompleter(model, resilience.CircuitBreakerConfig{Name: "summarizer"})
		slog.Info("summarizer configured", "provider", cfg.Summarizer.Provider, "model", cfg.Summarizer.Model)
	} else {
		slog.Warn("no summarizer provider configured; summaries use rule-based extraction")
	}

	summarizer := summary.NewService(llm, sessions, st, st)

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(
		health.ReadyChecker("recognizer", gated),
		health.PingChecker("store", st),
	)

	srv := server.New(*cfg, gated, sessions,
		server.WithSummarizer(summarizer),
		server.WithHealth(checks),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
		return 0
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// slogLevel maps the config log level onto slog's.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
