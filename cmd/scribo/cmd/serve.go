package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scribo-app/scribo/internal/adapters/cache"
	"github.com/scribo-app/scribo/internal/adapters/essays"
	"github.com/scribo-app/scribo/internal/api"
	"github.com/scribo-app/scribo/internal/config"
	"github.com/scribo-app/scribo/internal/diagnostics"
	"github.com/scribo-app/scribo/internal/logging"
)

// cachePurgeInterval is how often expired sqlite cache rows are deleted.
const cachePurgeInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the scribo HTTP API.

The server exposes corrections, deep analysis, two-phase analysis and the
essay write-back endpoints, plus health, rate limit, usage and Prometheus
metrics. Rate limit policies and the log level are reloaded when the config
file changes.

Examples:
  # Start with the configured address (127.0.0.1:8080 by default)
  scribo serve

  # Listen on all interfaces
  scribo serve --host 0.0.0.0 --port 3000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host address to bind to (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			logger.Warn("failed to close engine", slog.String("error", closeErr.Error()))
		}
	}()

	store, err := essays.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening essay store: %w", err)
	}
	defer store.Close()

	loader.Watch(func(next *config.Config) {
		reloadConfig(eng, logger, next)
	}, func(err error) {
		logger.Warn("ignoring invalid config change", slog.String("error", err.Error()))
	})

	if sq, ok := eng.cache.(*cache.SQLite); ok {
		go purgeCache(ctx, sq, logger)
	}

	monitor := diagnostics.NewResourceMonitor(diagnostics.MonitorConfig{
		GoroutineThreshold: 2000,
		MemoryThresholdMB:  1024,
	}, logger.WithComponent("diagnostics").Logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	server := api.NewServer(serverServices(eng, store),
		api.WithLogger(logger.WithComponent("api").Logger),
		api.WithMetrics(eng.metrics),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithRequestTimeout(config.Duration(cfg.Server.RequestTimeout, 10*time.Minute)),
		api.WithDiagnostics(diagnostics.NewSystemMetricsCollector(dataDir(cfg)), monitor),
	)

	addr := listenAddr(cfg.Server, serveHost, servePort)
	logger.Info("server starting",
		slog.String("addr", addr),
		slog.Int("models", eng.registry.Len()),
		slog.String("cache", cfg.Cache.Backend),
		slog.Bool("usage_log", eng.usage != nil),
	)
	return server.ListenAndServe(ctx, addr)
}

// serverServices leaves optional members nil rather than wrapping nil
// pointers in interfaces.
func serverServices(eng *engine, store *essays.SQLiteStore) api.Services {
	svc := api.Services{
		Corrector: eng.corrector,
		Deep:      eng.deep,
		Enhanced:  eng.enhanced,
		Health:    eng.invoker,
		Limiters:  eng.limiters,
		Cache:     eng.cache,
	}
	if eng.usage != nil {
		svc.Usage = eng.usage
	}
	if store != nil {
		svc.Essays = store
	}
	return svc
}

// reloadConfig applies the settings that can change without a restart.
func reloadConfig(eng *engine, logger *logging.Logger, next *config.Config) {
	applyRateLimits(eng.limiters, next.RateLimit)
	logger.SetLevel(next.Log.Level)
	logger.Info("configuration reloaded",
		slog.String("log_level", next.Log.Level),
		slog.Any("rate_limit_policies", eng.limiters.List()),
	)
}

func purgeCache(ctx context.Context, sq *cache.SQLite, logger *logging.Logger) {
	ticker := time.NewTicker(cachePurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sq.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("cache purge failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				logger.Debug("purged expired cache entries", slog.Int64("removed", removed))
			}
		}
	}
}

func listenAddr(cfg config.ServerConfig, host string, port int) string {
	if host == "" {
		host = cfg.Host
	}
	if port == 0 {
		port = cfg.Port
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// dataDir is the directory whose filesystem the health endpoint reports on.
func dataDir(cfg *config.Config) string {
	if cfg.Store.Path == "" {
		return ""
	}
	return filepath.Dir(cfg.Store.Path)
}
