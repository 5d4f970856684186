package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/pixelrelay/internal/api"
	"github.com/ignite/pixelrelay/internal/capi"
	"github.com/ignite/pixelrelay/internal/config"
	"github.com/ignite/pixelrelay/internal/pkg/distlock"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
	"github.com/ignite/pixelrelay/internal/queue"
	"github.com/ignite/pixelrelay/internal/repository/postgres"
	"github.com/ignite/pixelrelay/internal/service/dispatch"
	"github.com/ignite/pixelrelay/internal/service/ingest"
	"github.com/ignite/pixelrelay/internal/service/profile"
	"github.com/ignite/pixelrelay/internal/sink"
	"github.com/ignite/pixelrelay/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale/stub processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// withSessionTimeouts appends connect and statement timeouts unless the DSN
// already sets them.
func withSessionTimeouts(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "connect_timeout") {
		dsn += sep + "connect_timeout=5"
		sep = "&"
	}
	if !strings.Contains(dsn, "statement_timeout") {
		dsn += sep + "options=-c%20statement_timeout%3D15000%20-c%20idle_in_transaction_session_timeout%3D15000"
	}
	return dsn
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database.url (or DATABASE_URL) is required")
	}
	dsn := withSessionTimeouts(cfg.URL)
	log.Printf("DB URL host portion: ...@%s/...", extractHost(dsn))
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openRedis returns nil when Redis is not configured or unreachable; locks
// then fall back to PG advisory locks.
func openRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	var client *redis.Client
	opts, err := redis.ParseURL(url)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: url})
	} else {
		client = redis.NewClient(opts)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed (%s): %v, falling back to PG advisory locks", url, err)
		client.Close()
		return nil
	}
	log.Printf("Redis connected: %s", url)
	return client
}

// runWorkers starts each fn in its own goroutine; the returned group is
// done once all of them have returned.
func runWorkers(ctx context.Context, fns ...func(context.Context)) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(fn)
	}
	return &wg
}

// waitTimeout reports whether wg finished within d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to YAML config (empty for defaults)")
	flag.Parse()

	log.Println("pixelrelay ingestion server starting")

	if _, err := os.Stat(*configPath); *configPath != "" && err != nil {
		log.Printf("[config] %s not found, using defaults", *configPath)
		*configPath = ""
	}
	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", cfg.Server.Port)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := openRedis(cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskQueue, err := queue.FromConfig(ctx, cfg.Queue, cfg.AWS, redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize dispatch queue: %v", err)
	}
	log.Printf("Dispatch queue: %s", queueDriver(cfg.Queue.Driver))

	analytics, stopSink, err := sink.FromConfig(ctx, cfg.Sink, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to initialize analytics sink: %v", err)
	}
	defer stopSink()

	channels := postgres.NewChannelRepo(db)
	events := postgres.NewEventRepo(db)
	enricher := profile.NewService(postgres.NewProfileRepo(db),
		profile.WithListCap(cfg.Pipeline.ProfileListCap),
		profile.WithGlobalScope(cfg.Pipeline.GlobalProfiles()),
	)
	gate := ingest.NewService(channels, events, enricher, taskQueue, analytics, ingest.Config{
		MinMatchQuality: cfg.Pipeline.MinMatchQuality,
		MinBirthYear:    cfg.Pipeline.DOBMinYear,
		MaxEventAge:     cfg.Pipeline.MaxEventAge(),
		MaxFutureSkew:   cfg.Pipeline.FutureSkew(),
	})

	workers := &sync.WaitGroup{}
	if cfg.Server.EmbedWorkers {
		dispatcher := dispatch.NewService(channels, events, capi.NewClient(cfg.CAPI, cfg.Breaker), taskQueue, dispatch.Config{
			ChunkSize:   cfg.Pipeline.ChunkSize,
			MaxAttempts: cfg.Pipeline.MaxAttempts,
		})
		locks := distlock.NewProvider(redisClient, db, "pixelrelay:", cfg.Pipeline.LockTTL())
		pool := worker.NewDispatchWorkerPool(taskQueue, dispatcher, locks, cfg.Queue.Workers)
		sweeper := worker.NewPendingSweeper(dispatcher, taskQueue, cfg.Pipeline.SweepInterval(), cfg.Pipeline.DispatchConcurrency)
		workers = runWorkers(ctx, pool.Start, sweeper.Start)
		log.Printf("Embedded dispatch workers started (%d workers)", cfg.Queue.Workers)
	}

	server := api.NewServer(cfg, gate, api.NewHealthChecker(db, redisClient, taskQueue))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	cancel()

	if !waitTimeout(workers, 30*time.Second) {
		log.Println("Timed out waiting for in-flight dispatch runs")
	}
	log.Println("Server stopped")
}

func queueDriver(d string) string {
	if d == "" {
		return "memory"
	}
	return d
}
