// lastvalue serves the last-value price store over HTTP.
// Usage: go run ./cmd/lastvalue --config configs/lastvalue.example.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/lastvalue/internal/api"
	"github.com/rickgao/lastvalue/internal/config"
	"github.com/rickgao/lastvalue/internal/database"
	"github.com/rickgao/lastvalue/internal/engine"
	"github.com/rickgao/lastvalue/internal/feed"
	"github.com/rickgao/lastvalue/internal/ingest"
	"github.com/rickgao/lastvalue/internal/journal"
	"github.com/rickgao/lastvalue/internal/metrics"
	"github.com/rickgao/lastvalue/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (built-in defaults when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting lastvalue",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("lastvalue failed", "error", err)
		os.Exit(1)
	}
	logger.Info("lastvalue stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	// Validate already rejected unknown levels.
	level, _ := config.ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	eng := engine.New(engine.WithLogger(logger))

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	eng.Subscribe(metrics.NewCollector(reg, eng))

	// Live feed
	hub := feed.NewHub(feed.Config{
		SendBuffer:   cfg.Feed.SendBuffer,
		PingInterval: cfg.Feed.PingInterval,
		WriteTimeout: cfg.Feed.WriteTimeout,
	}, eng, logger)
	eng.Subscribe(hub)

	// Batch journal
	var (
		pool   *pgxpool.Pool
		writer *journal.Writer
	)
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Database.Journal.Host,
			"port", cfg.Database.Journal.Port,
			"database", cfg.Database.Journal.Name,
		)

		var err error
		pool, err = database.Connect(ctx, cfg.Database.Journal, "lastvalue-"+cfg.Instance.ID)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = journal.NewWriter(journal.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			return err
		}
		eng.Subscribe(writer)
	}

	// Kafka command consumer
	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		consumer = ingest.NewConsumer(ingest.NewReader(cfg.Kafka), eng, logger)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		logger.Info("consuming batch commands",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
			"group_id", cfg.Kafka.GroupID,
		)
	}

	apiServer := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		Handler: api.NewHandler(eng,
			api.WithHandlerLogger(logger),
			api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
			api.WithStream(hub),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsServer := metrics.NewServer(
		fmt.Sprintf(":%d", cfg.Metrics.Port),
		cfg.Metrics.Path,
		reg,
		healthHandler(eng, hub, pool, writer, consumer),
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return metricsServer.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("api server listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// Stop producers first so the journal sees every event.
		if consumer != nil {
			if err := consumer.Stop(shutdownCtx); err != nil {
				logger.Warn("ingest consumer stop failed", "error", err)
			}
		}

		// Hijacked stream connections are not closed by Shutdown.
		hub.Close()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api server shutdown failed", "error", err)
		}

		if writer != nil {
			if err := writer.Stop(shutdownCtx); err != nil {
				logger.Warn("journal writer stop failed", "error", err)
			}
		}
		return nil
	})

	logger.Info("lastvalue running",
		"api_url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	return g.Wait()
}

// healthHandler reports component status. pool, writer and consumer may be nil.
func healthHandler(eng *engine.Engine, hub *feed.Hub, pool *pgxpool.Pool, writer *journal.Writer, consumer *ingest.Consumer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		snap := eng.Snapshot()
		counts := make(map[string]int)
		for status, n := range eng.BatchCounts() {
			counts[status.String()] = n
		}
		health.Components["store"] = map[string]any{
			"instruments": snap.Len(),
			"version":     snap.Version(),
			"batches":     counts,
		}

		fs := hub.Stats()
		health.Components["feed"] = map[string]any{
			"subscribers":  fs.Clients,
			"slow_dropped": fs.SlowDropped,
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "degraded"
				health.Components["journal_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["journal_db"] = "connected"
			}
		}
		if writer != nil {
			js := writer.Stats()
			health.Components["journal"] = map[string]any{
				"inserts": js.Inserts,
				"errors":  js.Errors,
				"dropped": js.Dropped,
			}
		}
		if consumer != nil {
			cs := consumer.Stats()
			health.Components["ingest"] = map[string]any{
				"received": cs.Received,
				"applied":  cs.Applied,
				"rejected": cs.Rejected,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})
}
