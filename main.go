// Command live-herald keeps Discord live announcements in sync with Twitch.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Opens the Discord gateway session and registers the command handlers.
//   - Starts the announce loop, which polls Twitch for each registered
//     streamer and posts/edits/deletes one announcement message per streamer.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-herald/announce"
	"github.com/onnwee/live-herald/config"
	"github.com/onnwee/live-herald/db"
	"github.com/onnwee/live-herald/discord"
	"github.com/onnwee/live-herald/server"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("live-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations: versioned migrations (golang-migrate) from
	// db/migrations/, falling back to the embedded idempotent SQL for
	// deployments without the migrations directory on disk.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := &db.Store{DB: database}

	if err := cfg.ValidateAnnounceReady(); err != nil {
		// Keep the operational surface up so probes and /status still work,
		// but there is nothing to announce without credentials.
		slog.Warn("announce loop disabled", slog.Any("err", err))
	} else {
		tokenSource := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}

		// Best-effort preflight: fetch the app token now so credential
		// problems show up in logs at boot rather than on the first tick.
		preCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := tokenSource.Get(preCtx); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()

		bot, err := discord.New(cfg.DiscordBotToken)
		if err != nil {
			slog.Error("discord session create failed", slog.Any("err", err))
			os.Exit(1)
		}
		commands := &announce.Commands{
			Registrar:      store,
			Roles:          bot,
			StreamerRoleID: cfg.DiscordStreamerRoleID,
			AdminRoleID:    cfg.DiscordAdminRoleID,
		}
		commands.Attach(bot.Session)
		if err := bot.Open(); err != nil {
			slog.Error("discord connect failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := bot.Close(); err != nil {
				slog.Warn("discord close", slog.Any("err", err))
			}
		}()

		announcer := &announce.Announcer{
			Store:     store,
			Twitch:    &twitchapi.Client{AppTokenSource: tokenSource, ClientID: cfg.TwitchClientID},
			Chat:      bot,
			ChannelID: cfg.DiscordAnnounceChannel,
			Debug:     cfg.Debug,
		}
		go func() {
			// Channel and user lookups fail until the gateway handshake
			// completes, so the first tick waits for readiness.
			if err := bot.WaitReady(ctx); err != nil {
				return
			}
			slog.Info("discord session ready")
			announce.StartAnnounceJob(ctx, announcer, cfg.PollInterval)
		}()
	}

	// HTTP server (health/readiness/status/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
