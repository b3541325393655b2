// classbot is a Matrix bot for classrooms. It answers commands, tracks
// question sessions per room and tallies teacher reactions to student
// messages in Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	_ "github.com/lib/pq"
	"github.com/npezzotti/classbot/internal/api"
	"github.com/npezzotti/classbot/internal/bot"
	"github.com/npezzotti/classbot/internal/cache"
	"github.com/npezzotti/classbot/internal/config"
	"github.com/npezzotti/classbot/internal/database"
	"github.com/npezzotti/classbot/internal/matrix"
	"github.com/npezzotti/classbot/internal/resilient"
	"github.com/npezzotti/classbot/internal/state"
	"github.com/npezzotti/classbot/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	cfg, err := config.Load(args, os.Getenv)
	if err != nil {
		return 1, err
	}

	if cfg.IssueToken != "" {
		token, err := api.IssueToken(cfg.SigningKey, cfg.IssueToken, api.DefaultTokenExpiration)
		if err != nil {
			return 1, fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(token)
		return 0, nil
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()

	if err := database.Migrate(cfg.DatabaseDSN, logger); err != nil {
		return 1, fmt.Errorf("migrate: %w", err)
	}

	pg, err := database.NewPgRepository(startCtx, cfg.DatabaseDSN, database.PoolOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return 1, fmt.Errorf("db open: %w", err)
	}

	var repo database.Repository = pg
	var roomCache *cache.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()

		roomCache = cache.New(rdb, cfg.Redis.Prefix, cfg.Redis.TTL)
		if err := roomCache.Ping(startCtx); err != nil {
			logger.Warn("room cache unreachable, lookups will fall through to the database", "addr", cfg.Redis.Addr, "error", err)
		}
		repo = cache.NewRoomRepository(repo, roomCache, logger.With("component", "cache"))
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()

	runner := resilient.NewRunner(resilient.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}, logger.With("component", "store"), resilient.WithStats(statsUpdater))
	store := resilient.NewStore(repo, runner)

	client, err := matrix.NewClient(matrix.ClientConfig{
		HomeserverURL: cfg.Homeserver,
		HTTPClient:    &http.Client{Timeout: cfg.SyncTimeout + 30*time.Second},
		Logger:        logger.With("component", "matrix"),
	})
	if err != nil {
		pg.Close()
		return 1, err
	}

	if err := client.Login(startCtx, cfg.Username, cfg.Password); err != nil {
		pg.Close()
		return 1, fmt.Errorf("login: %w", err)
	}
	logger.Info("logged in", "user_id", client.UserID())

	sm := state.NewManager()

	// routed events are only published when there is a feed to read them
	var feed *api.Feed
	var observer bot.Observer
	if cfg.DiagnosticsAddr != "" {
		feed = api.NewFeed(logger.With("component", "feed"), statsUpdater)
		observer = feed
	}

	router := bot.NewRouter(bot.RouterConfig{
		Messenger:  client,
		Store:      store,
		Dispatcher: bot.NewDispatcher(bot.DefaultCommands(), sm, store, client, statsUpdater, logger.With("component", "dispatcher")),
		Tally:      bot.NewTally(store, client, statsUpdater, logger.With("component", "tally")),
		Stats:      statsUpdater,
		Observer:   observer,
		Logger:     logger.With("component", "router"),
	})

	filter := matrix.SyncFilter()
	since, initial, err := matrix.InitialSync(startCtx, client, filter)
	if err != nil {
		pg.Close()
		return 1, err
	}
	router.HandleInitialSync(startCtx, initial)

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		matrix.RunSyncLoop(loopCtx, client, matrix.SyncConfig{
			Filter:  filter,
			Timeout: int(cfg.SyncTimeout.Milliseconds()),
		}, since, router.HandleSync, func(error) {
			statsUpdater.Incr(stats.SyncErrors)
		}, logger.With("component", "sync"))
	}()

	operations := map[string]gfshutdown.Operation{
		"bot": func(ctx context.Context) error {
			cancelLoop()
			select {
			case <-loopDone:
			case <-ctx.Done():
				return fmt.Errorf("sync loop did not stop: %w", ctx.Err())
			}
			return pg.Close()
		},
	}

	if cfg.DiagnosticsAddr != "" {
		var opts []api.Option
		if roomCache != nil {
			opts = append(opts, api.WithCache(roomCache))
		}
		app := api.NewApp(mux, logger.With("component", "api"), sm, store, feed, api.Config{
			Addr:           cfg.DiagnosticsAddr,
			SigningKey:     cfg.SigningKey,
			AllowedOrigins: cfg.AllowedOrigins,
		}, opts...)

		go feed.Run()
		go func() {
			if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("diagnostics server failed", "error", err)
			}
		}()

		operations["diagnostics"] = func(ctx context.Context) error {
			err := app.Shutdown(ctx)
			feed.Shutdown()
			return err
		}
	}

	logger.Info("classbot started", "since", since)

	exitCode := <-gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, operations)

	// every producer has stopped by now
	statsUpdater.Stop()
	logger.Info("shutdown complete", "exit_code", exitCode)

	return exitCode, nil
}
