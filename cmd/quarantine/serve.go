package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/api"
	"github.com/lvonguyen/quarantine/internal/api/gateway"
	"github.com/lvonguyen/quarantine/internal/cloud"
	"github.com/lvonguyen/quarantine/internal/cloud/awscloud"
	"github.com/lvonguyen/quarantine/internal/config"
	"github.com/lvonguyen/quarantine/internal/orchestrator"
	"github.com/lvonguyen/quarantine/internal/remediation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the finding intake API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	tel, err := newTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	logger := tel.Logger()
	defer logger.Sync()

	logger.Info("Starting quarantine", zap.String("version", Version), zap.String("commit", GitCommit))
	logConfig(logger, cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, notifier, err := awsDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}

	engine := orchestrator.New(remediation.Default(), deps, notifier,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(tel.Metrics()),
		orchestrator.WithTracer(tel.Tracer()),
		orchestrator.WithRunTimeout(cfg.Quarantine.RunTimeout),
	)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
		logger.Info("Distributed dispatch guard enabled", zap.String("addr", cfg.Redis.Addr))
	}
	guard := gateway.NewDispatchGuard(redisClient, gateway.DispatchConfig{LockTTL: cfg.Redis.LockTTL}, logger)

	// Runs outlive client disconnects but are cancelled once shutdown gives
	// up waiting, so temporary grants are still released.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	runs := &trackedRunner{runner: engine}

	opts := api.Options{
		Runner:        runs,
		RunContext:    runCtx,
		Registry:      remediation.Default(),
		Guard:         guard,
		Logger:        logger,
		Metrics:       tel.Metrics(),
		FindingSource: cfg.Quarantine.FindingSource,
		Version:       Version,
	}
	if cfg.Telemetry.MetricsEnabled {
		opts.MetricsHandler = tel.MetricsHandler()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * 2,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, draining in-flight runs")
	}

	shutdown(server, runs, cancelRuns, cfg.Server.ShutdownTimeout, cfg.Capture.ReleaseTimeout*2, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}

// trackedRunner counts in-flight runs so shutdown can wait for them.
type trackedRunner struct {
	runner api.Runner
	wg     sync.WaitGroup
}

func (t *trackedRunner) Run(ctx context.Context, target remediation.Target) (*orchestrator.Report, error) {
	t.wg.Add(1)
	defer t.wg.Done()
	return t.runner.Run(ctx, target)
}

// shutdown stops accepting requests and lets in-flight runs finish within
// timeout. Runs still active after that are cancelled and given grace to
// release what they hold before the process exits.
func shutdown(server *http.Server, runs *trackedRunner, cancelRuns context.CancelFunc, timeout, grace time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("In-flight runs did not finish before shutdown timeout, cancelling", zap.Error(err))
	}
	cancelRuns()

	done := make(chan struct{})
	go func() {
		runs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		logger.Error("Cancelled runs did not return within grace period", zap.Duration("grace", grace))
	}
}

// awsDeps builds the action collaborators on the AWS adapters.
func awsDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (remediation.Deps, cloud.Notifier, error) {
	provider, err := awscloud.New(ctx, awscloud.Config{
		Region:      cfg.AWS.Region,
		AccountID:   cfg.AWS.AccountID,
		Bucket:      cfg.Artifacts.Bucket,
		TopicARN:    cfg.Notification.TopicARN,
		MaxAttempts: cfg.AWS.MaxAttempts,
	})
	if err != nil {
		return remediation.Deps{}, nil, err
	}

	deps := remediation.Deps{
		Compute:       provider.Compute,
		LoadBalancers: provider.LoadBalancers,
		AutoScaling:   provider.AutoScaling,
		RemoteExec:    provider.RemoteExec,
		Storage:       provider.Storage,
		Logger:        logger,
		Capture:       captureSettings(cfg),
	}
	return deps, provider.Notifier, nil
}
