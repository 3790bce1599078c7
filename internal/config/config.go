// Package config provides configuration management for the quarantine service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ErrMissingSetting is wrapped by Validate for every required setting that is empty.
var ErrMissingSetting = errors.New("missing required setting")

// Config holds all quarantine configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	AWS          AWSConfig          `yaml:"aws"`
	Artifacts    ArtifactsConfig    `yaml:"artifacts"`
	Notification NotificationConfig `yaml:"notification"`
	Capture      CaptureConfig      `yaml:"capture"`
	Quarantine   QuarantineConfig   `yaml:"quarantine"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds settings for the per-instance dispatch guard.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// AWSConfig holds account and region settings.
type AWSConfig struct {
	Region    string `yaml:"region"`
	AccountID string `yaml:"account_id"`
	// MaxAttempts bounds the SDK standard retryer.
	MaxAttempts int `yaml:"max_attempts"`
}

// ArtifactsConfig holds evidence storage settings.
type ArtifactsConfig struct {
	Bucket string `yaml:"bucket"`
}

// NotificationConfig holds the outcome channel settings.
type NotificationConfig struct {
	TopicARN string `yaml:"topic_arn"`
}

// CaptureConfig holds remote command capture settings.
type CaptureConfig struct {
	Commands           []string      `yaml:"commands"`
	ServiceRoleARN     string        `yaml:"service_role_arn"`
	InstanceProfileARN string        `yaml:"instance_profile_arn"`
	DocumentName       string        `yaml:"document_name"`
	TimeoutSeconds     int           `yaml:"timeout_seconds"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	DrainDelay         time.Duration `yaml:"drain_delay"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxAttempts        int           `yaml:"max_attempts"`
	ReleaseTimeout     time.Duration `yaml:"release_timeout"`
}

// QuarantineConfig holds run settings.
type QuarantineConfig struct {
	FindingSource string        `yaml:"finding_source"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TelemetryConfig holds metrics and tracing settings.
type TelemetryConfig struct {
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// Load reads configuration from a YAML file over the defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 2 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			LockTTL:  20 * time.Minute,
		},
		AWS: AWSConfig{
			Region:      "us-east-1",
			MaxAttempts: 10,
		},
		Capture: CaptureConfig{
			Commands:       []string{"uname -a", "whoami", "netstat -ap", "lsof"},
			DocumentName:   "AWS-RunShellScript",
			TimeoutSeconds: 240,
			SettleDelay:    5 * time.Second,
			DrainDelay:     10 * time.Second,
			PollInterval:   3 * time.Second,
			MaxAttempts:    20,
			ReleaseTimeout: 30 * time.Second,
		},
		Quarantine: QuarantineConfig{
			FindingSource: "GuardDuty",
			RunTimeout:    14 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			SamplingRate:   1.0,
		},
	}
}

// ApplyEnv overrides settings from the process environment. Unset
// variables leave the current value in place.
func (c *Config) ApplyEnv() error {
	setString(&c.Artifacts.Bucket, "ARTIFACT_BUCKET")
	setString(&c.AWS.AccountID, "AWS_ACCOUNT_ID")
	setString(&c.AWS.Region, "AWS_REGION")
	setString(&c.Notification.TopicARN, "NOTIFICATION_TOPIC_ARN")
	setString(&c.Capture.ServiceRoleARN, "SSM_ROLE_ARN")
	setString(&c.Capture.InstanceProfileARN, "EC2_INSTANCE_PROFILE_ARN")
	setString(&c.Quarantine.FindingSource, "FINDING_SOURCE")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if v, ok := os.LookupEnv("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}

	if v, ok := os.LookupEnv("SSM_COMMANDS"); ok {
		c.Capture.Commands = splitCommands(v)
	}

	if v, ok := os.LookupEnv("SSM_DRAIN_TIME_SECS"); ok && v != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || secs < 0 {
			return fmt.Errorf("SSM_DRAIN_TIME_SECS: invalid seconds %q", v)
		}
		c.Capture.DrainDelay = time.Duration(secs) * time.Second
	}

	return nil
}

// Validate reports every required setting that is missing. The instance
// profile is optional; without it command capture is skipped.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"ARTIFACT_BUCKET", c.Artifacts.Bucket},
		{"AWS_ACCOUNT_ID", c.AWS.AccountID},
		{"NOTIFICATION_TOPIC_ARN", c.Notification.TopicARN},
		{"SSM_ROLE_ARN", c.Capture.ServiceRoleARN},
		{"AWS_REGION", c.AWS.Region},
	}

	var errs error
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrMissingSetting, r.name))
		}
	}
	return errs
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitCommands(v string) []string {
	var out []string
	for _, cmd := range strings.Split(v, ",") {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			out = append(out, cmd)
		}
	}
	return out
}
