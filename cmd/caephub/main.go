// Package main is the entry point for caephub, the agent coordination hub.
// One binary runs the HTTP API, the MCP tool server, the activity-stream
// WebSocket gateway and the background janitor over a shared service core.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/caephub/caephub/internal/artifacts"
	"github.com/caephub/caephub/internal/common/config"
	"github.com/caephub/caephub/internal/common/logger"
	"github.com/caephub/caephub/internal/db"
	"github.com/caephub/caephub/internal/events"
	gatewayws "github.com/caephub/caephub/internal/gateway/websocket"
	"github.com/caephub/caephub/internal/hub/handlers"
	"github.com/caephub/caephub/internal/hub/repository"
	"github.com/caephub/caephub/internal/hub/service"
	"github.com/caephub/caephub/internal/hub/tools"
	"github.com/caephub/caephub/internal/mcpserver"
	"github.com/caephub/caephub/internal/metrics"
	"github.com/caephub/caephub/internal/policy"
	"github.com/caephub/caephub/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting caephub...")

	// 3. Create context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()
	if provided.NATS != nil {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// 5. Open the database
	pool, err := openDatabase(cfg)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	repo, err := repository.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()
	log.Info("Database ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("path", cfg.Database.Path))

	// 6. Supporting components
	registry := artifacts.NewLocalRegistry(
		fmt.Sprintf("http://%s:%d/artifacts", cfg.Server.Host, cfg.Server.Port))

	advisor := policy.NewAdvisor()
	if cfg.Policy.KeywordsFile != "" {
		advisor, err = policy.NewAdvisorFromFile(cfg.Policy.KeywordsFile)
		if err != nil {
			log.Fatal("Failed to load policy keywords", zap.Error(err))
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// 7. Service core and tool table
	svc := service.New(repo, provided.Bus, cfg, log, advisor, registry, m)
	table := tools.All(svc)

	// 8. Activity-stream WebSocket gateway
	wsHub := gatewayws.NewHub(log)
	if err := wsHub.Start(ctx, provided.Bus); err != nil {
		log.Fatal("Failed to start WebSocket hub", zap.Error(err))
	}

	// 9. HTTP API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.New(svc, table, wsHub, log).Register(router, promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	// 10. MCP tool server
	var mcpSrv *mcpserver.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcpserver.New(mcpserver.Config{Port: cfg.MCP.Port}, table, log)
		if err := mcpSrv.Start(ctx); err != nil {
			log.Fatal("Failed to start MCP server", zap.Error(err))
		}
	}

	// 11. Janitor sweep for expired claims and stale idempotency rows
	go svc.StartJanitor(ctx)

	log.Info("caephub started")
	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			log.Warn("MCP server shutdown failed", zap.Error(err))
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracing shutdown failed", zap.Error(err))
	}

	log.Info("Shutdown complete")
}

// openDatabase builds the connection pool for the configured driver. SQLite
// uses a dedicated single-connection writer beside a read pool; Postgres uses
// one pool for both sides.
func openDatabase(cfg *config.Config) (*db.Pool, error) {
	switch cfg.Database.Driver {
	case "sqlite3":
		writer, err := db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		reader, err := db.OpenSQLiteReader(cfg.Database.Path, cfg.Database.ReaderConns)
		if err != nil {
			writer.Close()
			return nil, err
		}
		return db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")), nil

	case "pgx":
		pg, err := db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		pgx := sqlx.NewDb(pg, "pgx")
		return db.NewPool(pgx, pgx), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
