// Package main provides the CLI entry point for the orchestra multi-agent
// runtime: serving the schedule runner, invoking an agent interactively,
// and managing projects/schedules. Grounded on the teacher's cmd/nexus's
// buildRootCmd / build-ldflags-version pattern and its slog.NewJSONHandler
// default-logger setup.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/orchestra-run/orchestra/internal/appctx"
	"github.com/orchestra-run/orchestra/internal/config"
	"github.com/orchestra-run/orchestra/internal/models"
	"github.com/orchestra-run/orchestra/internal/store"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "orchestra",
		Short:        "orchestra - multi-agent orchestration runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	root.AddCommand(
		buildServeCmd(&configPath),
		buildRunCmd(&configPath),
		buildScheduleCmd(&configPath),
		buildProjectCmd(&configPath),
	)
	return root
}

func buildApp(configPath string) (*appctx.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, store.DefaultSQLiteConfig())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	app, err := appctx.New(cfg, st, slog.Default())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build app: %w", err)
	}
	return app, nil
}

// buildServeCmd starts the ScheduleRunner and blocks until interrupted.
func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the schedule runner until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := app.NewScheduler()
			runner.Start(ctx)

			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			metricsAddr := fmt.Sprintf("%s:%d", app.Cfg.Server.Host, app.Cfg.Server.Port)
			metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("metrics server failed", "error", err)
				}
			}()

			slog.Info("orchestra serving", "storage", app.Cfg.Storage.SQLitePath, "metricsAddr", metricsAddr)

			<-ctx.Done()
			slog.Info("shutting down")
			app.Runs.StopAll(context.Background(), "")
			runner.Stop()
			_ = metricsSrv.Shutdown(context.Background())
			return nil
		},
	}
}

// buildRunCmd invokes a single agent interactively and prints its final
// response, the same path an interactive channel adapter or the schedule
// runner uses.
func buildRunCmd(configPath *string) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "run [agent] [message]",
		Short: "Invoke an agent once and print its final response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := app.Invoke(ctx, project, args[0], args[1], "", models.RootParentAgentName, models.CallModeSynchronous)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", models.DefaultProjectName, "Project directory name")
	return cmd
}

func buildScheduleCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}
	cmd.AddCommand(buildScheduleListCmd(configPath), buildScheduleAddCmd(configPath), buildScheduleRemoveCmd(configPath))
	return cmd
}

func buildScheduleListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			schedules, err := app.Store.ListSchedules(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(schedules) == 0 {
				fmt.Fprintln(out, "No schedules.")
				return nil
			}
			for _, s := range schedules {
				state := "disabled"
				if s.Enabled {
					state = "enabled"
				}
				fmt.Fprintf(out, "%s  %-20s agent=%s every %d %s  next=%s  (%s)\n",
					s.ScheduleID, s.Name, s.AgentName, s.Interval, s.Kind, s.NextRunAt.Format(time.RFC3339), state)
			}
			return nil
		},
	}
}

func buildScheduleAddCmd(configPath *string) *cobra.Command {
	var (
		project  string
		agent    string
		message  string
		kind     string
		interval int
	)
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a new schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			now := time.Now()
			s := &models.Schedule{
				ScheduleID: uuid.NewString(),
				Name:       args[0],
				ProjectDir: project,
				AgentName:  agent,
				Message:    message,
				Kind:       models.ScheduleKind(kind),
				Interval:   interval,
				Enabled:    true,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			s.NextRunAt = now.Add(time.Duration(interval) * s.Kind.Unit())

			if err := app.Store.CreateSchedule(cmd.Context(), s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created schedule %s\n", s.ScheduleID)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", models.DefaultProjectName, "Project directory name")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent name to invoke")
	cmd.Flags().StringVar(&message, "message", "", "Message to send the agent on each run")
	cmd.Flags().StringVar(&kind, "kind", "minutes", "Interval unit: minutes, hours, weeks")
	cmd.Flags().IntVar(&interval, "interval", 60, "Interval count")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func buildScheduleRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm [scheduleId]",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Store.DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted schedule %s\n", args[0])
			return nil
		},
	}
}

func buildProjectCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(buildProjectListCmd(configPath), buildProjectAddCmd(configPath))
	return cmd
}

func buildProjectListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			projects, err := app.Store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range projects {
				fmt.Fprintf(out, "%s  (%s)\n", p.ProjectName, p.ProjectDir)
			}
			return nil
		},
	}
}

func buildProjectAddCmd(configPath *string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Register a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if dir == "" {
				dir = args[0]
			}
			p := &models.Project{ProjectName: args[0], ProjectDir: dir, CreatedAt: time.Now()}
			if err := app.Store.CreateProject(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", p.ProjectName, p.ProjectDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Project directory name (defaults to the project name)")
	return cmd
}
