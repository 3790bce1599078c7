package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/config"
	"github.com/lvonguyen/quarantine/internal/observability"
	"github.com/lvonguyen/quarantine/internal/remediation"
)

const serviceName = "quarantine"

var rootCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Automated containment for compromised compute instances",
	Long: `quarantine isolates a compromised instance on receipt of a security
finding: it captures evidence, locks the instance down, removes it from
load balancing and autoscaling, and reports every step to a notification
topic.`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(serveCmd, runCmd, actionsCmd, versionCmd)
}

// loadConfig reads the config file and environment. Required settings are
// only enforced when strict is set.
func loadConfig(strict bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if strict {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

func newTelemetry(cfg *config.Config) (*observability.Telemetry, error) {
	return observability.New(observability.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
}

// captureSettings maps the capture section onto the action settings.
func captureSettings(cfg *config.Config) remediation.CaptureSettings {
	c := cfg.Capture
	return remediation.CaptureSettings{
		Commands:           c.Commands,
		InstanceProfileARN: c.InstanceProfileARN,
		ServiceRoleARN:     c.ServiceRoleARN,
		OutputBucket:       cfg.Artifacts.Bucket,
		NotificationARN:    cfg.Notification.TopicARN,
		DocumentName:       c.DocumentName,
		TimeoutSeconds:     c.TimeoutSeconds,
		SettleDelay:        c.SettleDelay,
		DrainDelay:         c.DrainDelay,
		PollInterval:       c.PollInterval,
		MaxAttempts:        c.MaxAttempts,
		ReleaseTimeout:     c.ReleaseTimeout,
	}
}

func logConfig(logger *zap.Logger, cfg *config.Config) {
	logger.Info("Configuration loaded",
		zap.String("config", configPath),
		zap.String("region", cfg.AWS.Region),
		zap.String("bucket", cfg.Artifacts.Bucket),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("capture", cfg.Capture.InstanceProfileARN != ""),
	)
}
