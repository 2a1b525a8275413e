package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/analyzer"
	"github.com/xkilldash9x/applyflow/internal/browser"
	"github.com/xkilldash9x/applyflow/internal/config"
	"github.com/xkilldash9x/applyflow/internal/filler"
	"github.com/xkilldash9x/applyflow/internal/gateway"
	"github.com/xkilldash9x/applyflow/internal/llmclient"
	"github.com/xkilldash9x/applyflow/internal/observability"
	"github.com/xkilldash9x/applyflow/internal/profile"
	"github.com/xkilldash9x/applyflow/internal/server"
	"github.com/xkilldash9x/applyflow/internal/store"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the engine: HTTP API plus the WebSocket endpoint for the extension",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("server.port", cmd.Flags().Lookup("port")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.cdp_url", cmd.Flags().Lookup("cdp-url")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}

	serveCmd.Flags().Int("port", 8765, "HTTP listen port")
	serveCmd.Flags().String("cdp-url", "http://localhost:9222", "DevTools endpoint of the running browser")
	return serveCmd
}

func runServe(ctx context.Context) error {
	logger := observability.GetLogger()

	// Re-resolve the configuration now that the serve flags are bound, so
	// flag overrides land with the right precedence.
	resolved, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to apply flag overrides: %w", err)
	}
	cfg = resolved

	profiles, err := profile.NewService(cfg.Profile().Path, logger)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	llm, err := llmclient.NewClient(cfg.LLM(), logger)
	if err != nil {
		return fmt.Errorf("failed to create reasoning client: %w", err)
	}

	an, err := analyzer.New(llm, profiles, cfg.LLM().Temperature, logger)
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}

	driver := browser.New(cfg.Browser(), logger)
	defer driver.Close()

	executor, err := filler.NewExecutor(driver, cfg.Fill(), logger)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	gw := gateway.New(logger)

	orch, err := filler.NewOrchestrator(executor, an, gw, profiles, cfg.Fill(), logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	jobs, closeJobs, err := openJobStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeJobs()

	srv, err := server.New(cfg, gw, an, orch, driver, profiles, jobs, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// openJobStore connects the optional persistence layer. An unset database
// URL disables it entirely.
func openJobStore(ctx context.Context, logger *zap.Logger) (schemas.JobRepository, func(), error) {
	dbURL := cfg.Database().URL
	if dbURL == "" {
		logger.Info("No database configured; job tracking disabled")
		return nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}
