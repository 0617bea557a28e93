package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bract/internal/infrastructure/postgres/listener"
	"bract/internal/interfaces/scheduler"
	"bract/internal/shared/config"
	"bract/internal/shared/logger"
	"bract/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		}, log)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Error("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	deps, err := NewDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Other instances unlinking a connection evict it from this cache.
	connListener := listener.NewConnectionListener(cfg.Database.ConnectionString(), deps.Aggregator, log)
	connListener.Start(ctx)
	defer connListener.Stop()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = deps.NewScheduler(cfg, log)
		if err != nil {
			return err
		}
		sched.Start()
		log.Info("scheduler started",
			zap.Strings("times", cfg.Scheduler.ScheduleTimes),
			zap.Time("next_run", sched.NextRun(time.Now())),
		)
	} else {
		log.Info("scheduler is disabled")
	}

	handler := SetupRoutes(deps, cfg, log)
	srv, redirectSrv, errc := StartServers(NewServerConfigFromConfig(handler, cfg), log)

	select {
	case <-ctx.Done():
	case err := <-errc:
		log.Error("server failed", zap.Error(err))
		GracefulShutdown(srv, redirectSrv, sched, shutdownTimeout, log)
		return err
	}

	GracefulShutdown(srv, redirectSrv, sched, shutdownTimeout, log)
	return nil
}
