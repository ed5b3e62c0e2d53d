package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidelane/convocore/internal/bus"
	"github.com/tidelane/convocore/internal/config"
	"github.com/tidelane/convocore/internal/content"
	"github.com/tidelane/convocore/internal/decision"
	"github.com/tidelane/convocore/internal/dedupe"
	"github.com/tidelane/convocore/internal/engine"
	"github.com/tidelane/convocore/internal/guard"
	"github.com/tidelane/convocore/internal/observability"
	"github.com/tidelane/convocore/internal/senders"
	"github.com/tidelane/convocore/internal/session"
	"github.com/tidelane/convocore/internal/store"
	"github.com/tidelane/convocore/internal/store/pg"
	"github.com/tidelane/convocore/internal/store/sqlite"
	"github.com/tidelane/convocore/internal/tracing"
	"github.com/tidelane/convocore/internal/validator"
)

// listener is one channel's inbound loop; it blocks until ctx ends.
type listener func(ctx context.Context, tenant string, handle senders.Handler) error

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
	log := slog.Default()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (no-op unless an OTLP endpoint is configured).
	traceShutdown, err := tracing.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, Version, cfg.Telemetry.Insecure)
	if err != nil {
		log.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer traceShutdown(context.Background())

	// Storage: Postgres in managed mode, embedded SQLite otherwise.
	var stores *store.Stores
	if cfg.Database.Mode == "managed" {
		stores, err = pg.NewStores(store.Config{PostgresDSN: cfg.Database.PostgresDSN})
	} else {
		stores, err = sqlite.NewStores(store.Config{SQLitePath: config.ExpandHome(cfg.Database.SQLitePath)})
	}
	if err != nil {
		log.Error("failed to open stores", "mode", cfg.Database.Mode, "error", err)
		os.Exit(1)
	}

	// Content catalog with TTL reload; the watcher invalidates on edits.
	catalog := content.NewCache(content.CacheConfig{
		Dir:    config.ExpandHome(cfg.Content.Dir),
		TTL:    cfg.Content.ReloadTTL(),
		Logger: log,
	})
	if cfg.Content.WatchForEdits && cfg.Content.Dir != "" {
		if err := catalog.Watch(); err != nil {
			log.Warn("content watcher unavailable", "error", err)
		}
	}

	// Decision service client feeds both the agent and the extractor.
	client := decision.NewClient(cfg.Decision.URL, cfg.Decision.APIKey, log)
	agent := decision.NewAgent(decision.AgentConfig{
		Decider: client,
		Timeout: cfg.Decision.Timeout(),
		Logger:  log,
	})

	channelSenders := buildSenders(cfg, log)

	eng := engine.New(engine.Config{
		Gate: dedupe.NewGate(dedupe.GateConfig{Store: stores.Dedupe, Logger: log}),
		Sessions: session.NewManager(session.ManagerConfig{
			Sessions: stores.Sessions,
			Profiles: stores.Profiles,
			Turns:    stores.Turns,
			TTL:      cfg.Engine.SessionTTL(),
			Logger:   log,
		}),
		Agent:     agent,
		Extractor: client,
		Validator: validator.New(validator.Config{
			MaxReplyLen:         cfg.Engine.MaxReplyChars,
			ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
			Logger:              log,
		}),
		Guards: guard.NewChain(guard.BusinessHours{
			OpenHour:  cfg.Guards.OpenHour,
			CloseHour: cfg.Guards.CloseHour,
			Days:      cfg.Guards.Days,
		}),
		Catalog:       catalog,
		Profiles:      stores.Profiles,
		Turns:         stores.Turns,
		Audit:         stores.Audit,
		Senders:       channelSenders,
		FanOutTimeout: cfg.Engine.FanOutTimeout(),
		Logger:        log,
	})

	// One task per inbound message; the engine owns all downstream
	// concurrency control. The per-message context is detached from the
	// listener context so shutdown lets in-flight messages finish.
	var inflight sync.WaitGroup
	handle := func(ctx context.Context, msg bus.InboundMessage) {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
			defer cancel()
			if _, err := eng.Process(msgCtx, msg); err != nil {
				log.Error("message processing failed",
					"channel", msg.Channel, "message_id", msg.MessageID, "error", err)
			}
		}()
	}

	for name, listen := range buildListeners(channelSenders) {
		go func() {
			if err := listen(ctx, cfg.Tenant, handle); err != nil {
				log.Error("channel listener stopped", "channel", name, "error", err)
			}
		}()
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Addr, log)
	}

	go runSweeper(ctx, cfg.Sweeper.Schedule, stores.Sweepers, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("convocore starting",
		"version", Version,
		"mode", cfg.Database.Mode,
		"tenant", cfg.Tenant,
		"metrics", cfg.Metrics.Enabled,
	)

	sig := <-sigCh
	log.Info("graceful shutdown initiated", "signal", sig)
	cancel()

	// Let in-flight messages finish, then drain background persistence.
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.Engine.DrainTimeout()):
		log.Warn("shutdown with messages still in flight")
	}

	if !eng.Tasks().Drain(cfg.Engine.DrainTimeout()) {
		log.Warn("background tasks not fully drained")
	}
	log.Info("convocore stopped")
}

// buildSenders wires one live sender per enabled channel.
func buildSenders(cfg *config.Config, log *slog.Logger) map[string]bus.Sender {
	out := make(map[string]bus.Sender)

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := senders.NewTelegram(cfg.Channels.Telegram.Token, log)
		if err != nil {
			log.Error("failed to initialize telegram", "error", err)
		} else {
			out["telegram"] = tg
			log.Info("telegram channel enabled")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := senders.NewDiscord(cfg.Channels.Discord.Token, log)
		if err != nil {
			log.Error("failed to initialize discord", "error", err)
		} else {
			out["discord"] = dc
			log.Info("discord channel enabled")
		}
	}

	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.BridgeURL != "" {
		wa, err := senders.NewWhatsApp(cfg.Channels.WhatsApp.BridgeURL, log)
		if err != nil {
			log.Error("failed to initialize whatsapp", "error", err)
		} else {
			out["whatsapp"] = wa
			log.Info("whatsapp channel enabled", "bridge_url", cfg.Channels.WhatsApp.BridgeURL)
		}
	}

	return out
}

// buildListeners exposes the inbound loop of every sender that has one.
func buildListeners(channelSenders map[string]bus.Sender) map[string]listener {
	type inboundListener interface {
		Listen(ctx context.Context, tenant string, handle senders.Handler) error
	}
	out := make(map[string]listener)
	for name, s := range channelSenders {
		if l, ok := s.(inboundListener); ok {
			out[name] = l.Listen
		}
	}
	return out
}

func serveMetrics(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "error", err)
	}
}

// runSweeper reaps expired dedupe markers and sessions on the configured
// cron schedule, checking due-ness once a minute.
func runSweeper(ctx context.Context, schedule string, sweepers []store.Sweeper, log *slog.Logger) {
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		log.Error("invalid sweeper schedule, sweeper disabled", "schedule", schedule)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(schedule, now)
			if err != nil || !due {
				continue
			}
			for i, sw := range sweepers {
				n, err := sw.DeleteExpired(ctx, now)
				if err != nil {
					log.Warn("sweep failed", "sweeper", i, "error", err)
					continue
				}
				if n > 0 {
					observability.SweeperDeleted.WithLabelValues(sweeperLabel(i)).Add(float64(n))
					log.Debug("swept expired rows", "sweeper", sweeperLabel(i), "rows", n)
				}
			}
		}
	}
}

func sweeperLabel(i int) string {
	// Store containers order sweepers as sessions then dedupe.
	switch i {
	case 0:
		return "sessions"
	case 1:
		return "dedupe"
	default:
		return "other"
	}
}
