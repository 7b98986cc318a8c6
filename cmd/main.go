// Command engine is the process entry point: it loads configuration, opens
// storage, wires the dispatcher/scheduler/worker pool/event bus/control
// plane together, and runs until terminated. Each component is started as
// its own supervised goroutine, gated by RUN_SERVER/RUN_WORKER/RUN_SCHEDULER,
// and the process shuts down gracefully on a terminating signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lprior-repo/nuoc-sub001/internal/dispatch"
	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/eventbus"
	"github.com/lprior-repo/nuoc-sub001/internal/fsm"
	enginehttp "github.com/lprior-repo/nuoc-sub001/internal/http"
	"github.com/lprior-repo/nuoc-sub001/internal/http/handlers"
	"github.com/lprior-repo/nuoc-sub001/internal/observability"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/config"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"
	"github.com/lprior-repo/nuoc-sub001/internal/scheduler"
	"github.com/lprior-repo/nuoc-sub001/internal/store"
	"github.com/lprior-repo/nuoc-sub001/internal/workerpool"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.OtelServiceName,
		Environment: cfg.OtelEnvironment,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}()

	metrics := observability.Init(log)

	db, err := store.Open(cfg, log)
	if err != nil {
		log.Fatal("open store", "error", err)
	}

	var bus eventbus.Bus
	if cfg.RedisAddr != "" {
		bus, err = eventbus.NewRedisBus(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("event bus unavailable, continuing without it", "error", err)
			bus = nil
		}
	}

	db.OnEvent(func(evt domain.Event) {
		if evt.TaskName == "" {
			metrics.IncJobTransition(string(evt.NewState))
		} else {
			metrics.IncTaskTransition(string(evt.NewState))
		}
		if bus == nil {
			return
		}
		msg := eventbus.Message{
			JobID:     evt.JobID.String(),
			TaskName:  evt.TaskName,
			EventType: string(evt.EventType),
			OldState:  string(evt.OldState),
			NewState:  string(evt.NewState),
			Reason:    evt.Reason,
			CreatedAt: evt.CreatedAt.Format(time.RFC3339Nano),
		}
		if err := bus.Publish(ctx, msg); err != nil {
			log.Warn("publish event failed", "job_id", evt.JobID, "error", err)
		}
	})

	registry := dispatch.NewRegistry()
	dispatcher := dispatch.New(db, registry)

	retry := fsm.RetryPolicy{
		Base:   time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		Factor: cfg.RetryFactor,
		Cap:    time.Duration(cfg.RetryMaxMS) * time.Millisecond,
		Jitter: cfg.RetryJitterFrac,
	}

	g, gctx := errgroup.WithContext(ctx)

	runScheduler := envTrue("RUN_SCHEDULER", true)
	runWorker := envTrue("RUN_WORKER", true)
	runServer := envTrue("RUN_SERVER", true)

	if runScheduler {
		sched := scheduler.New(db, log, scheduler.Config{
			ReadyPollInterval:    cfg.SchedulerInterval,
			RetryPollInterval:    cfg.SchedulerInterval,
			TimeoutSweepInterval: cfg.TimeoutSweepInterval,
			Retry:                retry,
		})
		g.Go(func() error { return sched.Run(gctx) })
	}

	if runWorker {
		pool := workerpool.New(db, dispatcher, log, metrics, workerpool.Config{
			Concurrency:    cfg.WorkerConcurrency,
			LeaseTimeout:   time.Duration(cfg.WorkerLeaseTimeoutSec) * time.Second,
			ReaperTick:     cfg.ReaperInterval,
			RunReaper:      true,
			AttemptCeiling: time.Duration(cfg.AttemptWallClockCeilingSec) * time.Second,
			Retry:          retry,
		})
		g.Go(func() error { return pool.Run(gctx) })
	}

	if bus != nil {
		g.Go(func() error {
			return bus.StartForwarder(gctx, func(m eventbus.Message) {
				log.Debug("event forwarded", "job_id", m.JobID, "event_type", m.EventType)
			})
		})
	}

	if metrics != nil {
		metrics.StartStorageCollector(gctx, log, db.DB())
		metrics.StartJobQueueCollector(gctx, log, db.DB())
		if cfg.RedisAddr != "" {
			metrics.StartRedisCollector(gctx, log, cfg.RedisAddr)
		}
		metrics.StartServer(gctx, log, cfg.MetricsAddr)
	}

	if runServer {
		srv := enginehttp.NewServer(enginehttp.RouterConfig{
			AwakeableHandler: handlers.NewAwakeableHandler(db),
			HealthHandler:    handlers.NewHealthHandler(),
			JobHandler:       handlers.NewJobHandler(db),
			Log:              log,
			Metrics:          metrics,
			ServiceName:      cfg.OtelServiceName,
		})
		addr := ":" + strconv.Itoa(cfg.HTTPPort)
		httpServer := &http.Server{Addr: addr, Handler: srv.Engine}

		g.Go(func() error {
			log.Info("http server listening", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("engine shut down cleanly")
}
