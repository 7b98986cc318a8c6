// Package observability provides tracing (otel.go) and a hand-rolled
// Prometheus-exposition metrics registry (this file) scoped to the
// workflow engine's own concerns: API traffic, queue depth, worker slot
// occupancy, job/task lifecycle counts, journal growth, and awakeable
// settlement outcomes.
package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"
)

// Metrics holds every counter/gauge/histogram the engine exposes on
// /metrics.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	queueDepth    *GaugeVec
	workerSlots   *GaugeVec
	leasesReaped  *Counter
	tasksEnqueued *Counter
	tasksLeased   *Counter

	jobTransitions  *CounterVec
	taskTransitions *CounterVec
	jobsByStatus    *GaugeVec
	tasksByStatus   *GaugeVec

	journalEntries *CounterVec

	awakeablesCreated  *Counter
	awakeableSettled   *CounterVec
	awakeableTimeouts  *Counter

	pgStats    *GaugeVec
	redisUp    *Gauge
	redisPing  *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Enabled reports whether METRICS_ENABLED is set truthy. Metrics collection
// never runs by default in local/dev setups.
func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
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

// Init lazily builds the singleton Metrics registry. Returns nil when
// metrics are disabled, so every call site can treat a nil *Metrics as a
// no-op instrument (every method below is nil-receiver safe).
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = &Metrics{
			apiRequests: NewCounterVec("engine_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
			apiLatency: NewHistogramVec(
				"engine_api_request_duration_seconds",
				"API request latency in seconds by method/route/status.",
				[]string{"method", "route", "status"},
				[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			),
			apiInflight: NewGauge("engine_api_inflight_requests", "In-flight API requests."),

			queueDepth:    NewGaugeVec("engine_queue_depth", "Queued-task depth by queue/status.", []string{"queue", "status"}),
			workerSlots:   NewGaugeVec("engine_worker_slots", "Worker slot occupancy by worker id.", []string{"worker_id", "kind"}),
			leasesReaped:  NewCounter("engine_leases_reaped_total", "Total stale task leases reclaimed by the reaper."),
			tasksEnqueued: NewCounter("engine_tasks_enqueued_total", "Total tasks placed on a queue."),
			tasksLeased:   NewCounter("engine_tasks_leased_total", "Total tasks successfully leased by a worker."),

			jobTransitions:  NewCounterVec("engine_job_transitions_total", "Job FSM transitions by to-status.", []string{"status"}),
			taskTransitions: NewCounterVec("engine_task_transitions_total", "Task FSM transitions by to-status.", []string{"status"}),
			jobsByStatus:    NewGaugeVec("engine_jobs_by_status", "Current job count by status.", []string{"status"}),
			tasksByStatus:   NewGaugeVec("engine_tasks_by_status", "Current task count by status.", []string{"status"}),

			journalEntries: NewCounterVec("engine_journal_entries_total", "Journal entries appended by entry kind.", []string{"kind"}),

			awakeablesCreated: NewCounter("engine_awakeables_created_total", "Total awakeables created."),
			awakeableSettled:  NewCounterVec("engine_awakeables_settled_total", "Awakeables reaching a terminal state, by status.", []string{"status"}),
			awakeableTimeouts: NewCounter("engine_awakeables_timeout_total", "Awakeables swept into TIMEOUT by the deadline sweep."),

			pgStats:   NewGaugeVec("engine_storage_pool_stats", "Database connection pool stats.", []string{"metric"}),
			redisUp:   NewGauge("engine_redis_up", "Event bus Redis connectivity (1=up, 0=down)."),
			redisPing: NewGauge("engine_redis_ping_seconds", "Event bus Redis ping latency in seconds."),
		}
		if log != nil {
			log.Info("observability metrics enabled")
		}
	})
	return instance
}

// StartServer runs a dedicated metrics HTTP server exposing /metrics off
// its own port so scraping never shares the control plane's listener.
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

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.queueDepth, m.workerSlots, m.leasesReaped, m.tasksEnqueued, m.tasksLeased,
		m.jobTransitions, m.taskTransitions, m.jobsByStatus, m.tasksByStatus,
		m.journalEntries,
		m.awakeablesCreated, m.awakeableSettled, m.awakeableTimeouts,
		m.pgStats, m.redisUp, m.redisPing,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// ObserveAPI records one completed HTTP request.
func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
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

// IncJobTransition records a job FSM transition landing on status.
func (m *Metrics) IncJobTransition(status string) {
	if m == nil {
		return
	}
	m.jobTransitions.Inc(status)
}

// IncTaskTransition records a task FSM transition landing on status.
func (m *Metrics) IncTaskTransition(status string) {
	if m == nil {
		return
	}
	m.taskTransitions.Inc(status)
}

func (m *Metrics) SetJobsByStatus(status string, count float64) {
	if m == nil {
		return
	}
	m.jobsByStatus.Set(count, status)
}

func (m *Metrics) SetTasksByStatus(status string, count float64) {
	if m == nil {
		return
	}
	m.tasksByStatus.Set(count, status)
}

func (m *Metrics) IncTaskEnqueued() {
	if m == nil {
		return
	}
	m.tasksEnqueued.Inc()
}

func (m *Metrics) IncTaskLeased() {
	if m == nil {
		return
	}
	m.tasksLeased.Inc()
}

func (m *Metrics) AddLeasesReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.leasesReaped.Add(float64(n))
}

func (m *Metrics) SetQueueDepth(queue, status string, depth float64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(depth, queue, status)
}

func (m *Metrics) SetWorkerSlots(workerID, kind string, n float64) {
	if m == nil {
		return
	}
	m.workerSlots.Set(n, workerID, kind)
}

func (m *Metrics) IncJournalEntry(kind string) {
	if m == nil {
		return
	}
	m.journalEntries.Inc(kind)
}

func (m *Metrics) IncAwakeableCreated() {
	if m == nil {
		return
	}
	m.awakeablesCreated.Inc()
}

func (m *Metrics) IncAwakeableSettled(status string) {
	if m == nil {
		return
	}
	m.awakeableSettled.Inc(status)
}

func (m *Metrics) IncAwakeableTimeout() {
	if m == nil {
		return
	}
	m.awakeableTimeouts.Inc()
}

// StartStorageCollector periodically samples the *sql.DB connection pool
// underlying GORM (open/idle/in-use counts) and publishes them as gauges.
func (m *Metrics) StartStorageCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
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
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: storage pool stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
			}
		}
	}()
}

// StartRedisCollector periodically pings the event bus's Redis instance.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartJobQueueCollector periodically samples job/task status counts so
// gauges reflect current distribution, not just cumulative transitions.
func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	statuses := []domain.Status{
		domain.StatusPending, domain.StatusScheduled, domain.StatusReady,
		domain.StatusRunning, domain.StatusSuspended, domain.StatusBackingOff,
		domain.StatusPaused, domain.StatusCompleted,
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range statuses {
					var jobCount int64
					if err := db.WithContext(ctx).Model(&domain.Job{}).Where("status = ?", s).Count(&jobCount).Error; err != nil {
						if log != nil {
							log.Warn("metrics: job status count failed", "error", err, "status", s)
						}
					} else {
						m.jobsByStatus.Set(float64(jobCount), string(s))
					}

					var taskCount int64
					if err := db.WithContext(ctx).Model(&domain.Task{}).Where("status = ?", s).Count(&taskCount).Error; err != nil {
						if log != nil {
							log.Warn("metrics: task status count failed", "error", err, "status", s)
						}
					} else {
						m.tasksByStatus.Set(float64(taskCount), string(s))
					}
				}

				var rows []struct {
					QueueName string
					Status    string
					Count     int64
				}
				if err := db.WithContext(ctx).
					Model(&domain.QueuedTask{}).
					Select("queue_name, status, count(*) as count").
					Group("queue_name, status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: queue depth query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					m.queueDepth.Set(float64(row.Count), row.QueueName, row.Status)
				}
			}
		}
	}()
}

// ---- lightweight metric primitives (Prometheus exposition) ----

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl] += v
	c.mu.Unlock()
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val++
	c.mu.Unlock()
}

func (c *Counter) Add(v float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

type Gauge struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Set(v float64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) Inc() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val++
	g.mu.Unlock()
}

func (g *Gauge) Dec() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val--
	g.mu.Unlock()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s gauge\n", g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", g.name, g.val)
	return err
}

type GaugeVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	if g == nil {
		return
	}
	lbl := labelString(g.labelNames, values)
	g.mu.Lock()
	g.values[lbl] = v
	g.mu.Unlock()
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s gauge\n", g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for k, v := range g.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", g.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{
			buckets: h.buckets,
			counts:  make([]uint64, len(h.buckets)+1),
		}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s histogram\n", h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, v := range h.values {
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	if strings.HasSuffix(labels, "}") {
		return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
	}
	return "{le=\"" + le + "\"}"
}
