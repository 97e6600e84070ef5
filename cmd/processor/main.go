package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pix_processor/internal/processor"
)

const (
	appName = "pix_processor"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "processor",
		Short:         "Instant transfer processor",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(sweepCmd(&configPath))
	rootCmd.AddCommand(auditCmd(&configPath))
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, metrics server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting application", slog.String("name", appName), slog.String("version", Version))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}

			metricsServer := a.metrics.StartMetricsServer(cfg.Metrics.Addr)
			httpServer := startHTTPServer(a, cfg.HTTP.Addr)
			go runEvery(ctx, logger, "scheduler", cfg.Scheduler.Interval, func(ctx context.Context) error {
				_, err := a.processor.RunDueScheduled(ctx, cfg.Scheduler.BatchSize)
				return err
			})
			go runEvery(ctx, logger, "webhook-retry", cfg.Reconciler.RetryInterval, func(ctx context.Context) error {
				_, err := a.reconciler.RetryFailed(ctx)
				return err
			})

			<-ctx.Done()
			logger.Info("Shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
			}
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
			}
			a.close(shutdownCtx)

			logger.Info("Application shutdown complete")
			return nil
		},
	}
}

func startHTTPServer(a *app, addr string) *http.Server {
	router := a.apiHandler().Router()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		a.logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

// runEvery calls fn on every tick until ctx is done. Errors are logged and
// the loop keeps going.
func runEvery(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		logger.Warn("Background job disabled", slog.String("job", name))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Background job failed",
					slog.String("job", name),
					slog.String("error", err.Error()))
			}
		}
	}
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Execute due scheduled transfers and retry failed webhooks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			scheduled, err := a.processor.RunDueScheduled(ctx, cfg.Scheduler.BatchSize)
			if err != nil {
				return err
			}
			retried, err := a.reconciler.RetryFailed(ctx)
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]any{
				"scheduled": scheduled,
				"webhooks":  retried,
			})
		},
	}
}

func auditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit chains",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify [user-id]",
		Short: "Replay a user's audit chain and report any break",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			verification, err := a.chain.VerifyChain(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd, verification); err != nil {
				return err
			}
			return verification.Err()
		},
	})

	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with fraud rule files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate a fraud rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := processor.LoadRuleSetFile(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, set)
		},
	})

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
