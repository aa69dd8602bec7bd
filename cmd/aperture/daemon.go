package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/aperture/internal/api"
	"github.com/oriys/aperture/internal/config"
	"github.com/oriys/aperture/internal/engine"
	"github.com/oriys/aperture/internal/logging"
	"github.com/oriys/aperture/internal/metrics"
	"github.com/oriys/aperture/internal/observability"
	"github.com/oriys/aperture/internal/queue"
	"github.com/oriys/aperture/internal/service"
)

func daemonCmd() *cobra.Command {
	var (
		logLevel string
		totalMem float64
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Aperture request execution engine daemon",
		Long:  "Run the Aperture request execution engine: HTTP surface, Worker Pool, and reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("pg-dsn") {
				cfg.Store.DSN = pgDSN
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.LogLevel = logLevel
			}

			logging.InitStructured(cfg.Observability.LogFormat, cfg.Observability.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.TracingEnabled,
				Endpoint:    cfg.Observability.TracingOTLP,
				ServiceName: "aperture",
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.MetricsEnabled {
				metrics.Init("aperture")
			}

			var store engine.Store
			switch cfg.Store.Backend {
			case "postgres":
				pgStore, err := engine.NewSQLStore(ctx, cfg.Store.DSN, cfg.Store.LogDir)
				if err != nil {
					return fmt.Errorf("connect request store: %w", err)
				}
				store = pgStore
			default:
				store = engine.NewMemStore(cfg.Store.LogDir)
			}

			reg := engine.NewRegistry()
			operations := registerEntrypoints(reg)

			q, _, err := queue.Select(ctx, cfg.Queue.RedisAddr, cfg.Queue.RedisPingTimeout, cfg.Queue.ForceBackend)
			if err != nil {
				return fmt.Errorf("select queue backend: %w", err)
			}

			notifier := queue.NewChannelNotifier()
			defer notifier.Close()

			if totalMem <= 0 {
				totalMem = 8
			}
			plan := engine.PlanResources(cfg.Planner, runtime.NumCPU(), totalMem, cfg.HTTP.Deploy)
			logging.Op().Info("resource plan computed",
				"cpus", runtime.NumCPU(), "total_mem_gb", totalMem,
				"blocking_workers", plan.BlockingWorkers, "nonblocking_slots", plan.NonBlockingSlots)

			selfBin, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve self executable: %w", err)
			}

			eng := service.New(store, reg, q, notifier, plan, selfBin, cfg.Reaper.Interval)
			eng.Start(ctx)
			defer eng.Stop()

			if cfg.Reaper.Enabled {
				go eng.ScheduleBackground(ctx, "housekeeping.sweep", cfg.Reaper.Interval)
			}

			server := api.NewServer(eng, cfg.HTTP.Addr, operations)
			serverErrCh := make(chan error, 1)
			go func() { serverErrCh <- server.ListenAndServe() }()

			logging.Op().Info("aperture request execution engine started", "addr", cfg.HTTP.Addr)

			select {
			case <-ctx.Done():
				logging.Op().Info("shutdown signal received")
			case err := <-serverErrCh:
				if err != nil {
					logging.Op().Error("http server exited", "error", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().Float64Var(&totalMem, "total-mem-gb", 0, "Total memory budget in GB for the Resource Planner (defaults to 8)")

	return cmd
}
