package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

// Metrics is the process-wide registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	contributions   *CounterVec
	malformed       *CounterVec
	aggregatesReady *CounterVec
	requests        *CounterVec
	requestLatency  *HistogramVec
	orphansSwept    *Counter

	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	queueDepth *GaugeVec
	dbStats    *GaugeVec
	redisUp    *Gauge
	redisPing  *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return parseBoolEnv("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func parseBoolEnv(key string, fallback bool) bool {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return fallback
	}
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

// Init builds the shared registry once. It returns nil when METRICS_ENABLED is off.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New returns a fresh, unshared registry.
func New() *Metrics {
	return &Metrics{
		contributions:   NewCounterVec("orch_contributions_received_total", "Contributions received from control-component nodes by operation.", []string{"operation"}),
		malformed:       NewCounterVec("orch_contributions_malformed_total", "Contributions dropped as malformed by operation.", []string{"operation"}),
		aggregatesReady: NewCounterVec("orch_aggregates_ready_total", "Correlation ids that reached the expected contribution count.", []string{"operation"}),
		requests:        NewCounterVec("orch_requests_total", "Orchestrated requests by operation/outcome.", []string{"operation", "outcome"}),
		requestLatency: NewHistogramVec(
			"orch_request_duration_seconds",
			"End-to-end orchestrated request latency in seconds by operation/outcome.",
			[]string{"operation", "outcome"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		),
		orphansSwept: NewCounter("orch_orphans_swept_total", "Contribution records removed by the janitor."),
		apiRequests:  NewCounterVec("orch_api_requests_total", "Total API requests by route/operation/status class.", []string{"route", "operation", "code"}),
		apiLatency: NewHistogramVec(
			"orch_api_request_duration_seconds",
			"API request latency in seconds by route/operation/status class.",
			[]string{"route", "operation", "code"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("orch_api_inflight_requests", "In-flight API requests."),
		queueDepth:  NewGaugeVec("orch_queue_depth", "Messages waiting on a transport destination.", []string{"destination"}),
		dbStats:     NewGaugeVec("orch_db_pool", "Database connection pool stats.", []string{"stat"}),
		redisUp:     NewGauge("orch_redis_up", "Redis reachability (1 up, 0 down)."),
		redisPing:   NewGauge("orch_redis_ping_seconds", "Redis ping latency in seconds."),
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []promWriter{
		m.contributions,
		m.malformed,
		m.aggregatesReady,
		m.requests,
		m.requestLatency,
		m.orphansSwept,
		m.apiRequests,
		m.apiLatency,
		m.apiInflight,
		m.queueDepth,
		m.dbStats,
		m.redisUp,
		m.redisPing,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ContributionReceived(op string) {
	if m == nil {
		return
	}
	m.contributions.Inc(orUnknown(op))
}

func (m *Metrics) ContributionMalformed(op string) {
	if m == nil {
		return
	}
	m.malformed.Inc(orUnknown(op))
}

func (m *Metrics) AggregateReady(op string) {
	if m == nil {
		return
	}
	m.aggregatesReady.Inc(orUnknown(op))
}

func (m *Metrics) RequestCompleted(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	op, outcome = orUnknown(op), orUnknown(outcome)
	m.requests.Inc(op, outcome)
	m.requestLatency.Observe(d.Seconds(), op, outcome)
}

func (m *Metrics) OrphansSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphansSwept.Add(float64(n))
}

// ObserveAPI records one HTTP request. operation is empty for routes that
// carry none.
func (m *Metrics) ObserveAPI(route, operation, code string, dur time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "none"
	}
	route, code = orUnknown(route), orUnknown(code)
	m.apiRequests.Inc(route, operation, code)
	m.apiLatency.Observe(dur.Seconds(), route, operation, code)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.collectDB(log, db)
			}
		}
	}()
}

func (m *Metrics) collectDB(log *logger.Logger, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		if log != nil {
			log.Warn("metrics: db stats unavailable", "error", err)
		}
		return
	}
	stats := sqlDB.Stats()
	m.dbStats.Set(float64(stats.OpenConnections), "open_connections")
	m.dbStats.Set(float64(stats.InUse), "in_use")
	m.dbStats.Set(float64(stats.Idle), "idle")
	m.dbStats.Set(float64(stats.WaitCount), "wait_count")
	m.dbStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
	m.dbStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
}

// StartRedisCollector pings the transport's client; it does not own the connection.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *goredis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pingRedis(ctx, log, rdb)
			}
		}
	}()
}

func (m *Metrics) pingRedis(ctx context.Context, log *logger.Logger, rdb *goredis.Client) {
	start := time.Now()
	if err := rdb.Ping(ctx).Err(); err != nil {
		m.redisUp.Set(0)
		if log != nil {
			log.Warn("metrics: redis ping failed", "error", err)
		}
		return
	}
	m.redisUp.Set(1)
	m.redisPing.Set(time.Since(start).Seconds())
}

// StartQueueCollector samples the backlog of every destination in dests.
func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, src transport.DepthReporter, dests []string) {
	if m == nil || src == nil || len(dests) == 0 {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.collectQueues(ctx, log, src, dests)
			}
		}
	}()
}

func (m *Metrics) collectQueues(ctx context.Context, log *logger.Logger, src transport.DepthReporter, dests []string) {
	for _, d := range dests {
		n, err := src.QueueDepth(ctx, d)
		if err != nil {
			if log != nil {
				log.Warn("metrics: queue depth failed", "destination", d, "error", err)
			}
			continue
		}
		m.queueDepth.Set(float64(n), d)
	}
}
