package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/pixelrelay/internal/capi"
	"github.com/ignite/pixelrelay/internal/config"
	"github.com/ignite/pixelrelay/internal/pkg/distlock"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
	"github.com/ignite/pixelrelay/internal/queue"
	"github.com/ignite/pixelrelay/internal/repository/postgres"
	"github.com/ignite/pixelrelay/internal/service/dispatch"
	"github.com/ignite/pixelrelay/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to YAML config (empty for defaults)")
	retryChannel := flag.String("retry", "", "move Failed events of this channel back to Pending and exit")
	retryIDs := flag.String("ids", "", "comma-separated event row ids for -retry (default: all Failed)")
	flag.Parse()

	log.Println("Starting pixelrelay dispatch worker...")

	if _, err := os.Stat(*configPath); *configPath != "" && err != nil {
		*configPath = ""
	}
	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis unavailable (%v), using PG advisory locks", err)
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskQueue, err := queue.FromConfig(ctx, cfg.Queue, cfg.AWS, redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize dispatch queue: %v", err)
	}

	dispatcher := dispatch.NewService(
		postgres.NewChannelRepo(db),
		postgres.NewEventRepo(db),
		capi.NewClient(cfg.CAPI, cfg.Breaker),
		taskQueue,
		dispatch.Config{ChunkSize: cfg.Pipeline.ChunkSize, MaxAttempts: cfg.Pipeline.MaxAttempts},
	)

	if *retryChannel != "" {
		var ids []string
		for _, id := range strings.Split(*retryIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		n, err := dispatcher.RetryFailed(ctx, *retryChannel, ids)
		if err != nil {
			log.Fatalf("Retry failed for channel %s: %v", *retryChannel, err)
		}
		log.Printf("Requeued %d failed events for channel %s", n, *retryChannel)
		return
	}

	locks := distlock.NewProvider(redisClient, db, "pixelrelay:", cfg.Pipeline.LockTTL())
	pool := worker.NewDispatchWorkerPool(taskQueue, dispatcher, locks, cfg.Queue.Workers)
	sweeper := worker.NewPendingSweeper(dispatcher, taskQueue, cfg.Pipeline.SweepInterval(), cfg.Pipeline.DispatchConcurrency)

	go sweeper.Start(ctx)
	log.Printf("Pending sweeper started (interval %s)", cfg.Pipeline.SweepInterval())

	stopped := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(stopped)
	}()
	log.Printf("Dispatch pool started (%d workers)", cfg.Queue.Workers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down worker...")
	cancel()

	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for in-flight dispatch runs")
	}
	log.Println("Worker stopped")
}
