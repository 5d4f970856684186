package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/pixelrelay/internal/pkg/httputil"
)

// Dependency states.
const (
	stateUp      = "up"
	stateDown    = "down"
	stateOff     = "off"
	stateBacklog = "backlog"
)

// Overall states. Only a lost database makes the relay unready: locks fall
// back to Postgres and the sweeper drains Pending rows without a queue.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusDown     = "down"
)

// Check is the state of one dependency.
type Check struct {
	State   string `json:"state"`
	Latency string `json:"latency,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status string           `json:"status"`
	Uptime string           `json:"uptime"`
	Checks map[string]Check `json:"checks"`
}

// QueueDepth reports the dispatch queue length.
type QueueDepth interface {
	Len(ctx context.Context) (int64, error)
}

// HealthChecker inspects Postgres, Redis and the dispatch queue. Nil
// dependencies report "off".
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	queue   QueueDepth
	backlog int64
	timeout time.Duration
	started time.Time
}

func NewHealthChecker(db *sql.DB, redisClient *redis.Client, queue QueueDepth) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redisClient,
		queue:   queue,
		backlog: 1000,
		timeout: 3 * time.Second,
		started: time.Now(),
	}
}

// HandleHealth always answers 200; the body carries the state.
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, hc.status(r.Context()))
}

func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "alive", "uptime": hc.uptime()})
}

// HandleReadiness answers 503 while the database is unreachable.
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	st := hc.status(r.Context())
	code := http.StatusOK
	if st.Status == statusDown {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, struct {
		Ready bool `json:"ready"`
		HealthStatus
	}{Ready: code == http.StatusOK, HealthStatus: st})
}

func (hc *HealthChecker) status(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	checks := map[string]Check{
		"database": timed(hc.db != nil, func() error { return hc.db.PingContext(ctx) }),
		"redis":    timed(hc.redis != nil, func() error { return hc.redis.Ping(ctx).Err() }),
		"queue":    hc.checkQueue(ctx),
	}

	st := HealthStatus{Status: statusOK, Uptime: hc.uptime(), Checks: checks}
	switch {
	case checks["database"].State == stateDown:
		st.Status = statusDown
	case checks["redis"].State == stateDown, checks["queue"].State == stateDown, checks["queue"].State == stateBacklog:
		st.Status = statusDegraded
	}
	return st
}

func (hc *HealthChecker) checkQueue(ctx context.Context) Check {
	var depth int64
	c := timed(hc.queue != nil, func() error {
		var err error
		depth, err = hc.queue.Len(ctx)
		return err
	})
	if c.State != stateUp {
		return c
	}
	c.Detail = fmt.Sprintf("%d tasks", depth)
	if depth > hc.backlog {
		c.State = stateBacklog
	}
	return c
}

func (hc *HealthChecker) uptime() string {
	return time.Since(hc.started).Round(time.Second).String()
}

func timed(configured bool, ping func() error) Check {
	if !configured {
		return Check{State: stateOff}
	}
	start := time.Now()
	err := ping()
	c := Check{State: stateUp, Latency: time.Since(start).Round(time.Microsecond).String()}
	if err != nil {
		c.State = stateDown
		c.Detail = err.Error()
	}
	return c
}
