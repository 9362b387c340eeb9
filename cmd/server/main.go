package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/typetrial/internal/api"
	"github.com/koopa0/typetrial/internal/config"
	"github.com/koopa0/typetrial/internal/events"
	"github.com/koopa0/typetrial/internal/race"
	"github.com/koopa0/typetrial/internal/store"
	"github.com/koopa0/typetrial/internal/store/migrations"
	"github.com/koopa0/typetrial/internal/ws"
	"github.com/koopa0/typetrial/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置檔路徑")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	// 先遷移再建連線池
	m, err := migrations.New(cfg.PostgresDSN(), log)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil {
		_ = m.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := m.Close(); err != nil {
		log.Warn("failed to close migrator", "error", err)
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool, log)
	collab := race.Collaborators{
		Passages: pg,
		Races:    pg,
		Results:  pg,
		Users:    store.NewCachedUsers(pg, redisClient, cfg.Redis.UserCacheTTL, log),
	}

	checks := map[string]api.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}

	if cfg.NATS.Enabled {
		conn, err := nats.Connect(
			cfg.NATS.URL,
			nats.Name("typetrial"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.PingInterval(20*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer conn.Close()

		publisher, err := events.NewResultPublisher(pg, conn, cfg.NATS.Config, log)
		if err != nil {
			return fmt.Errorf("create result publisher: %w", err)
		}
		collab.Results = publisher
		checks["nats"] = func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New(conn.Status().String())
			}
			return nil
		}
	}

	engine := race.NewEngine(cfg.Race, collab, log)
	hub := ws.NewHub(engine, cfg.WebSocket, log)
	handler := api.NewHandler(engine, hub, checks, log)

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws", hub.ServeWS)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server",
			"addr", srv.Addr,
			"nats", cfg.NATS.Enabled,
			"max_users", cfg.Race.MaxUsers)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		engine.Stop()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown server", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("failed to force close server", "error", closeErr)
		}
	}

	// WebSocket 連線被 Hijack，不在 Shutdown 範圍內
	hub.Stop()
	engine.Stop()

	return nil
}
