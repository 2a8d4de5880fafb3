package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/talkxo/sequence-email/internal/canvas"
	"github.com/talkxo/sequence-email/internal/dispatch"
	"github.com/talkxo/sequence-email/internal/scheduler"
	"github.com/talkxo/sequence-email/internal/server"
)

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the generation API and workflow canvas server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	p, err := buildPipeline(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	editor := canvas.NewEditor()
	editor.Subscribe(func(st canvas.State) {
		slog.Debug("canvas changed", "nodes", len(st.Nodes), "connections", len(st.Connections))
	})

	srv := server.New(server.Options{
		Generator:     p.generator,
		Stats:         p.dispatcher,
		Credentials:   p.dispatcher.Pool(),
		Models:        p.dispatcher.Registry(),
		Editor:        editor,
		MaxConcurrent: int64(cfg.MaxConcurrent),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New()
	err = sched.Add(scheduler.Job{
		Name:     "dispatch-stats",
		Schedule: cfg.StatsSchedule,
		Run:      func(context.Context) { logStats(p.dispatcher.Stats()) },
	})
	if err != nil {
		slog.Warn("stats job disabled", "schedule", cfg.StatsSchedule, "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	listen := cfg.Listen
	if serveListen != "" {
		listen = serveListen
	}
	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.ListenAndServe()
	}()

	slog.Info("nurture started",
		"listen", listen,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"credentials", p.dispatcher.Pool().ActiveCount(),
		"best_model", p.dispatcher.Registry().Best().ID,
	)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func logStats(st dispatch.Stats) {
	slog.Info("dispatch stats",
		"total_credentials", st.TotalCredentials,
		"active_credentials", st.ActiveCredentials,
		"total_attempts", st.TotalAttempts,
		"success_rate", st.SuccessRate,
	)
	for _, c := range st.Credentials {
		slog.Debug("credential stats",
			"name", c.Name,
			"active", c.Active,
			"success", c.SuccessCount,
			"errors", c.ErrorCount,
		)
	}
}
