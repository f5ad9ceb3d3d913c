// finbrief — scheduled financial news pipeline: RSS collection, AI
// importance scoring and impact analysis, evidence-backed deep
// analysis, and HTML email reports.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/finbrief/finbrief/pkg/analyzer"
	"github.com/finbrief/finbrief/pkg/api"
	"github.com/finbrief/finbrief/pkg/config"
	"github.com/finbrief/finbrief/pkg/deep"
	"github.com/finbrief/finbrief/pkg/ingest"
	"github.com/finbrief/finbrief/pkg/lifecycle"
	"github.com/finbrief/finbrief/pkg/llm"
	"github.com/finbrief/finbrief/pkg/logging"
	"github.com/finbrief/finbrief/pkg/mailer"
	"github.com/finbrief/finbrief/pkg/models"
	"github.com/finbrief/finbrief/pkg/pipeline"
	"github.com/finbrief/finbrief/pkg/scheduler"
	"github.com/finbrief/finbrief/pkg/search"
	"github.com/finbrief/finbrief/pkg/storage"
	"github.com/finbrief/finbrief/pkg/version"
)

// shutdownTimeout bounds the graceful stop of the scheduler and its
// in-flight jobs.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "finbrief",
		Short:         "AI-assisted financial news collection and analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the configuration file")
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "path to the environment file")

	root.AddCommand(
		newStartCmd(&configPath, &envFile),
		newBackgroundCmd(&configPath, &envFile),
		newRunOnceCmd(&configPath, &envFile),
		newSummaryCmd(&configPath, &envFile),
		newStatusCmd(&configPath, &envFile),
		newVersionCmd(),
	)
	return root
}

// app holds the wired components shared by start and run-once.
type app struct {
	cfg       *config.Config
	store     *storage.Store
	orch      *pipeline.Orchestrator
	mailerSvc *mailer.Service
	closeLogs func() error
}

func buildApp(ctx context.Context, configPath, envFile string) (*app, error) {
	if err := godotenv.Load(envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", envFile, "error", err)
	}

	// 1. Configuration
	cfg, err := config.Initialize(configPath)
	if err != nil {
		return nil, fmt.Errorf("initialize configuration: %w", err)
	}

	// 2. Logging
	closeLogs, err := logging.Setup(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	slog.Info("Starting finbrief",
		"version", version.Full(),
		"config", configPath,
		"provider", cfg.AIAnalysis.Provider)

	// 3. Store
	store, err := storage.NewStore(ctx, cfg.Database.SQLite.DBPath)
	if err != nil {
		_ = closeLogs()
		return nil, fmt.Errorf("open store: %w", err)
	}

	// 4. LLM client
	client, err := llm.NewClient(cfg.AIAnalysis.Provider, cfg.AIAnalysis.Active())
	if err != nil {
		_ = store.Close()
		_ = closeLogs()
		return nil, fmt.Errorf("create LLM client: %w", err)
	}

	// 5. Pipeline
	mailerSvc := mailer.NewService(cfg.Email)
	if mailerSvc == nil {
		slog.Warn("Email not configured, reports will not be sent")
	}

	deps := pipeline.Deps{
		Collector: ingest.NewCollector(cfg.NewsCollection.Sources.RSSFeeds),
		Scorer:    analyzer.NewImportanceScorer(client, cfg.AIAnalysis.AnalysisParams.SingleShotTimeout()),
		Impact:    analyzer.NewImpactAnalyzer(client, cfg.AIAnalysis.AnalysisParams),
		Deep:      deep.NewAnalyzer(client, search.NewAdapter(), cfg.AIAnalysis),
		Store:     store,
	}
	if mailerSvc != nil {
		deps.Mailer = mailerSvc
	}

	return &app{
		cfg:       cfg,
		store:     store,
		orch:      pipeline.New(cfg, deps),
		mailerSvc: mailerSvc,
		closeLogs: closeLogs,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("Error closing store", "error", err)
	}
	if err := a.closeLogs(); err != nil {
		fmt.Fprintln(os.Stderr, "error closing logs:", err)
	}
}

func newStartCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the scheduler with the monitor HTTP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduler(cmd.Context(), *configPath, *envFile, true)
		},
	}
}

func newBackgroundCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:     "background",
		Aliases: []string{"daemon"},
		Short:   "Run the scheduler without the monitor endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduler(cmd.Context(), *configPath, *envFile, false)
		},
	}
}

func runScheduler(ctx context.Context, configPath, envFile string, withMonitor bool) error {
	a, err := buildApp(ctx, configPath, envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	// 6. Lifecycle manager and jobs
	probes := map[string]lifecycle.Probe{
		"database": func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.store.DB().PingContext(pingCtx) == nil
		},
		"email": func() bool { return a.mailerSvc != nil },
	}
	manager := lifecycle.NewManager(a.cfg.Scheduler, probes)

	if err := registerJobs(manager.Scheduler(), a.orch, &a.cfg.Scheduler.Strategy); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	// 7. Monitor endpoint (non-blocking)
	// A nil channel blocks forever, so without the monitor the select
	// below waits on signals only.
	var monitor *api.Server
	var monitorErr <-chan error
	if withMonitor {
		monitor = api.NewServer(a.cfg.Monitor.ListenAddr, manager, a.store)
		monitorErr = monitor.Start()
	}

	// 8. Start scheduling
	if err := manager.Start(); err != nil {
		return err
	}
	slog.Info("finbrief started", "jobs", len(manager.Scheduler().JobStatuses()))

	// 9. Wait for a signal or a monitor failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
		manager.NotifySignal(sig)
	case err := <-monitorErr:
		slog.Error("Monitor endpoint failed, shutting down", "error", err)
	}

	// 10. Graceful shutdown
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Stop(stopCtx); err != nil {
		slog.Warn("Scheduler stop exceeded deadline", "error", err)
	}

	if monitor != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer httpCancel()
		if err := monitor.Shutdown(httpCtx); err != nil {
			slog.Error("Monitor shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}

// registerJobs installs the configured strategy: either the single
// full_pipeline interval job, or the calendar-driven enhanced set.
// Daily summary and maintenance run in both modes.
func registerJobs(sched *scheduler.Scheduler, orch *pipeline.Orchestrator, st *config.StrategyConfig) error {
	jobs := []struct {
		spec config.JobSpec
		job  *scheduler.Job
		// enhancedOnly jobs are skipped when full_pipeline is active.
		enhancedOnly bool
	}{
		{st.FullPipeline, &scheduler.Job{
			ID:      "full_pipeline",
			Name:    "full collection and analysis cycle",
			Trigger: scheduler.IntervalTrigger{Every: time.Duration(st.FullPipeline.IntervalMinutes) * time.Minute},
			Run: func(ctx context.Context) error {
				_, err := orch.FullCycle(ctx)
				return err
			},
		}, false},
		{st.MorningCollection, &scheduler.Job{
			ID:      "morning_collection",
			Name:    "morning collection and digest",
			Trigger: scheduler.CalendarTrigger{Hour: st.MorningCollection.Hour, Minute: st.MorningCollection.Minute},
			Run:     orch.MorningDigest,
		}, true},
		{st.TradingHours, &scheduler.Job{
			ID:      "trading_hours",
			Name:    "trading-hours collection",
			Trigger: scheduler.IntervalTrigger{Every: time.Duration(st.TradingHours.IntervalMinutes) * time.Minute},
			Run:     orch.IntradayTick,
		}, true},
		{st.EveningCollection, &scheduler.Job{
			ID:      "evening_collection",
			Name:    "evening collection",
			Trigger: scheduler.CalendarTrigger{Hour: st.EveningCollection.Hour, Minute: st.EveningCollection.Minute},
			Run:     orch.EveningCollection,
		}, true},
		{st.DailySummary, &scheduler.Job{
			ID:      "daily_summary",
			Name:    "daily summary email",
			Trigger: scheduler.CalendarTrigger{Hour: st.DailySummary.Hour, Minute: st.DailySummary.Minute},
			Run:     orch.DailySummary,
		}, false},
		{st.Maintenance, &scheduler.Job{
			ID:      "maintenance",
			Name:    "retention and log cleanup",
			Trigger: scheduler.CalendarTrigger{Hour: st.Maintenance.Hour, Minute: st.Maintenance.Minute},
			Run:     orch.Maintenance,
		}, false},
	}

	fullPipeline := st.FullPipeline.IsEnabled()
	for _, entry := range jobs {
		if !entry.spec.IsEnabled() {
			continue
		}
		if entry.job.ID == "full_pipeline" && !fullPipeline {
			continue
		}
		if entry.enhancedOnly && fullPipeline {
			continue
		}
		if err := sched.AddJob(entry.job); err != nil {
			return err
		}
	}
	return nil
}

func newRunOnceCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "run-once [cycle]",
		Short:     "Run one pipeline cycle and exit",
		Long:      "Cycles: full (default), morning, intraday, evening, summary, maintenance",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"full", "morning", "intraday", "evening", "summary", "maintenance"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, *configPath, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			cycle := "full"
			if len(args) > 0 {
				cycle = args[0]
			}

			switch cycle {
			case "full":
				pairs, err := a.orch.FullCycle(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("cycle complete: %d items analyzed\n", len(pairs))
				return nil
			case "morning":
				return a.orch.MorningDigest(ctx)
			case "intraday":
				return a.orch.IntradayTick(ctx)
			case "evening":
				return a.orch.EveningCollection(ctx)
			case "summary":
				return a.orch.DailySummary(ctx)
			case "maintenance":
				return a.orch.Maintenance(ctx)
			default:
				return fmt.Errorf("unknown cycle %q", cycle)
			}
		},
	}
}

func newSummaryCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Send the daily summary email once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *configPath, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.orch.DailySummary(cmd.Context())
		},
	}
}

func newStatusCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted scheduler state",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := godotenv.Load(*envFile); err == nil {
				slog.Debug("Loaded environment", "path", *envFile)
			}
			cfg, err := config.Initialize(*configPath)
			if err != nil {
				return fmt.Errorf("initialize configuration: %w", err)
			}

			state, err := lifecycle.LoadState(cfg.Scheduler.StateFile)
			if err != nil {
				fmt.Println("scheduler state: not found (never started?)")
				return nil
			}

			alive := state.ProcessID > 0 && processAlive(state.ProcessID)
			running := state.State
			if running == "" {
				// State files written before the run-state field carried
				// only the boolean.
				running = models.StateStopped
				if state.IsRunning {
					running = models.StateRunning
				}
			}
			if running == models.StateRunning && !alive {
				running = "stale (process gone)"
			}

			fmt.Printf("state:       %s\n", running)
			fmt.Printf("pid:         %d\n", state.ProcessID)
			if !state.StartTime.IsZero() {
				fmt.Printf("started:     %s\n", state.StartTime.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("health:      %s\n", orUnknown(state.HealthStatus.Overall))
			fmt.Printf("executions:  %d total, %d failed\n",
				state.Stats.TotalExecutions, state.Stats.FailedExecutions)
			fmt.Printf("errors:      %d\n", state.ErrorCount)
			fmt.Printf("saved at:    %s\n", state.SavedAt.Format("2006-01-02 15:04:05"))

			if n := len(state.ExecutionHistory); n > 0 {
				fmt.Println("recent events:")
				start := n - 5
				if start < 0 {
					start = 0
				}
				for _, ev := range state.ExecutionHistory[start:] {
					mark := "ok"
					if !ev.Success {
						mark = "FAIL"
					}
					fmt.Printf("  %s  %-24s %-4s %s\n",
						ev.Timestamp.Format("01-02 15:04:05"), ev.Type, mark, ev.Message)
				}
			}
			return nil
		},
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version.Full())
		},
	}
}
