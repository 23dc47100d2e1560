// Command lingolive is the interactive language practice CLI.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lingolive/lingolive/internal/app"
	"github.com/lingolive/lingolive/internal/config"
	"github.com/lingolive/lingolive/internal/health"
	"github.com/lingolive/lingolive/internal/observe"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/internal/store/postgres"
	"github.com/lingolive/lingolive/internal/textgen"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingolive: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingolive: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("lingolive starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "lingolive",
	})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer st.Close()

	// ── Session manager ───────────────────────────────────────────────────────
	manager := app.NewSessionManager(app.SessionManagerConfig{
		Registry: app.DefaultRegistry(),
		Config:   cfg,
		Store:    st,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Log level changes take effect immediately; everything else applies to
	// the next session start.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.LanguagesChanged {
			slog.Info("language settings updated, restart the session to apply",
				"target", d.NewLanguages.Target, "native", d.NewLanguages.Native)
		}
		if d.VoiceChanged {
			slog.Info("voice updated, restart the session to apply", "voice", d.NewVoice)
		}
		manager.UpdateConfig(new)
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	g, gctx := errgroup.WithContext(ctx)

	// ── Metrics / health endpoint (optional) ──────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		srv := newMetricsServer(cfg.Server.MetricsAddr, st)
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Interactive console ───────────────────────────────────────────────────
	g.Go(func() error {
		return console(gctx, manager, st, textGenerator(cfg), cfg.Languages)
	})

	err = g.Wait()

	// Best-effort teardown of a still-running session.
	if manager.IsActive() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if stopErr := manager.Stop(stopCtx); stopErr != nil {
			slog.Warn("session stop error", "err", stopErr)
		}
		cancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Console loop ──────────────────────────────────────────────────────────────

const consoleHelp = `Commands:
  start          begin a conversation session
  stop           end the session and print a practice summary
  status         show the active session
  history        print the transcript of the current or last session
  note           explain the grammar of your last sentence
  help           show this help
  quit           exit`

// console runs the interactive command loop until ctx is cancelled or stdin
// reaches EOF.
func console(ctx context.Context, manager *app.SessionManager, st store.Store, gen textgen.Generator, langs config.LanguagesConfig) error {
	fmt.Println("lingolive ready. Type 'start' to begin, 'help' for commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	var lastSessionID string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "":
			case "help":
				fmt.Println(consoleHelp)
			case "start":
				if err := manager.Start(ctx); err != nil {
					fmt.Println("start failed:", err)
					continue
				}
				info := manager.Info()
				lastSessionID = info.SessionID
				fmt.Printf("session %s started, speak into the microphone\n", info.SessionID)
			case "stop":
				if !manager.IsActive() {
					fmt.Println("no active session")
					continue
				}
				if err := manager.Stop(ctx); err != nil {
					fmt.Println("stop failed:", err)
					continue
				}
				fmt.Println("session ended")
				printSummary(ctx, st, lastSessionID, gen)
			case "status":
				if !manager.IsActive() {
					fmt.Println("idle")
					continue
				}
				info := manager.Info()
				fmt.Printf("session %s on %s, running for %s\n",
					info.SessionID, info.Provider, time.Since(info.StartedAt).Round(time.Second))
			case "history":
				printHistory(ctx, st, lastSessionID)
			case "note":
				printGrammarNote(ctx, st, lastSessionID, gen, langs)
			case "quit", "exit":
				return nil
			default:
				fmt.Printf("unknown command %q, type 'help'\n", line)
			}
		}
	}
}

// printHistory prints the transcript of the given session, translations
// indented under the message they belong to.
func printHistory(ctx context.Context, st store.Store, sessionID string) {
	if sessionID == "" {
		fmt.Println("no session yet")
		return
	}
	msgs, err := st.Messages(ctx, sessionID)
	if err != nil {
		fmt.Println("history unavailable:", err)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("no messages yet")
		return
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s\n", m.Speaker, m.Text)
		if m.Translation != "" {
			fmt.Printf("         (%s)\n", m.Translation)
		}
	}
}

// printSummary asks the text provider for a short practice summary of the
// finished session. Silent when no text provider is configured.
func printSummary(ctx context.Context, st store.Store, sessionID string, gen textgen.Generator) {
	if gen == nil || sessionID == "" {
		return
	}
	msgs, err := st.Messages(ctx, sessionID)
	if err != nil || len(msgs) == 0 {
		return
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Speaker+": "+m.Text)
	}

	sumCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	summary, err := textgen.Summarize(sumCtx, gen, lines)
	if err != nil {
		slog.Warn("summary unavailable", "err", err)
		return
	}
	fmt.Println("\nPractice summary:")
	fmt.Println(summary)
}

// printGrammarNote explains the learner's most recent sentence in their
// native language.
func printGrammarNote(ctx context.Context, st store.Store, sessionID string, gen textgen.Generator, langs config.LanguagesConfig) {
	if gen == nil {
		fmt.Println("no text provider configured")
		return
	}
	if sessionID == "" {
		fmt.Println("no session yet")
		return
	}
	msgs, err := st.Messages(ctx, sessionID)
	if err != nil {
		fmt.Println("history unavailable:", err)
		return
	}
	var last string
	for _, m := range msgs {
		if m.Speaker == "user" {
			last = m.Text
		}
	}
	if last == "" {
		fmt.Println("you have not said anything yet")
		return
	}

	noteCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	note, err := textgen.GrammarNote(noteCtx, gen, last, langs.Native)
	if err != nil {
		fmt.Println("grammar note unavailable:", err)
		return
	}
	fmt.Printf("\n%q\n%s\n", last, note)
}

// textGenerator builds the configured text provider, or nil when none is
// configured or construction fails.
func textGenerator(cfg *config.Config) textgen.Generator {
	entry := cfg.Providers.Text
	if entry.Name == "" {
		return nil
	}
	gen, err := app.DefaultRegistry().CreateText(entry)
	if err != nil {
		slog.Warn("text provider unavailable, summaries disabled", "name", entry.Name, "err", err)
		return nil
	}
	return gen
}

// ── Store selection ───────────────────────────────────────────────────────────

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		st, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		slog.Info("using postgres store")
		return st, nil
	default:
		slog.Info("using in-memory store, history is lost on exit")
		return store.NewMemoryStore(), nil
	}
}

// ── Metrics server ────────────────────────────────────────────────────────────

// newMetricsServer serves Prometheus metrics and health probes. The store
// backs the readiness check so a lost database connection flips /readyz.
func newMetricsServer(addr string, st store.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := st.Sessions(ctx)
			return err
		},
	}).Register(mux)

	instrumented := observe.Middleware(observe.DefaultMetrics())(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           instrumented,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        LingoLive — voice practice     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Realtime", providerLabel(cfg.Providers.Realtime))
	printEntry("Text", providerLabel(cfg.Providers.Text))
	printEntry("Practicing", cfg.Languages.Target)
	printEntry("Native", cfg.Languages.Native)
	driver := cfg.Storage.Driver
	if driver == "" {
		driver = config.StorageMemory
	}
	printEntry("Storage", string(driver))
	if cfg.Server.MetricsAddr != "" {
		printEntry("Metrics", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return ""
	}
	if entry.Model != "" {
		return entry.Name + " / " + entry.Model
	}
	return entry.Name
}

func printEntry(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s : %-19s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

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
