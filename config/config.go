// Package config loads the governor configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "GOVERNOR"

// Config is the root configuration structure
type Config struct {
	AWS         AWSConfig         `yaml:"aws"`
	Queue       QueueConfig       `yaml:"queue"`
	Storage     StorageConfig     `yaml:"storage"`
	Notify      NotifyConfig      `yaml:"notify"`
	Policy      PolicyConfig      `yaml:"policy"`
	Remediation RemediationConfig `yaml:"remediation"`
	Journal     JournalConfig     `yaml:"journal"`
	Daemon      DaemonConfig      `yaml:"daemon"`
	OTEL        OTELConfig        `yaml:"otel"`
	Log         LogConfig         `yaml:"log"`
}

// AWSConfig holds the hub account settings and the member role to assume
type AWSConfig struct {
	Region      string `yaml:"region"`
	Partition   string `yaml:"partition"`
	Profile     string `yaml:"profile"`
	RoleName    string `yaml:"role_name"`
	ExternalID  string `yaml:"external_id"`
	SessionName string `yaml:"session_name"`
	// Endpoint overrides every service endpoint (LocalStack).
	Endpoint string `yaml:"endpoint"`
}

// QueueConfig holds the SQS consumer settings
type QueueConfig struct {
	URL               string        `yaml:"url"`
	Workers           int           `yaml:"workers"`
	MaxReceiveCount   int           `yaml:"max_receive_count"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
}

// StorageConfig selects the ledger and exception backends
type StorageConfig struct {
	Ledger          string        `yaml:"ledger"`
	Exceptions      string        `yaml:"exceptions"`
	Path            string        `yaml:"path"`
	LedgerTable     string        `yaml:"ledger_table"`
	ExceptionsTable string        `yaml:"exceptions_table"`
	RedisURL        string        `yaml:"redis_url"`
	RedisPrefix     string        `yaml:"redis_prefix"`
	Retention       time.Duration `yaml:"retention"`
	ClaimLease      time.Duration `yaml:"claim_lease"`
}

// NotifyConfig configures the notification channels. Every channel with a
// target set receives every notification.
type NotifyConfig struct {
	SNSTopicARN    string        `yaml:"sns_topic_arn"`
	Slack          SlackConfig   `yaml:"slack"`
	NATS           NATSConfig    `yaml:"nats"`
	LambdaFunction string        `yaml:"lambda_function"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	Wait           time.Duration `yaml:"wait"`
}

// SlackConfig holds the incoming webhook settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// NATSConfig holds the NATS publisher settings
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// PolicyConfig tunes classification
type PolicyConfig struct {
	ProductionAccounts []string          `yaml:"production_accounts"`
	SeverityOverrides  map[string]string `yaml:"severity_overrides"`
	RegoPath           string            `yaml:"rego_path"`
}

// RemediationConfig tunes the executor
type RemediationConfig struct {
	Timeout      time.Duration      `yaml:"timeout"`
	RequiredTags types.RequiredTags `yaml:"required_tags"`
}

// JournalConfig locates the remediation journal
type JournalConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	MaxFileSize   int64  `yaml:"max_file_size"`
}

// DaemonConfig holds the long-running process settings
type DaemonConfig struct {
	ListenAddr          string        `yaml:"listen_addr"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// OTELConfig holds OpenTelemetry settings
type OTELConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
	// SampleRatio of root traces kept; zero keeps all
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file, applies defaults and validates it.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with environment and flag overrides from v
// applied before validation
func LoadWithOverrides(path string, v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if v != nil {
		cfg.ApplyOverrides(v)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// overrides maps viper keys onto config fields
var overrides = map[string]func(*Config, string){
	"region":            func(c *Config, s string) { c.AWS.Region = s },
	"external_id":       func(c *Config, s string) { c.AWS.ExternalID = s },
	"role_name":         func(c *Config, s string) { c.AWS.RoleName = s },
	"endpoint":          func(c *Config, s string) { c.AWS.Endpoint = s },
	"queue_url":         func(c *Config, s string) { c.Queue.URL = s },
	"ledger_table":      func(c *Config, s string) { c.Storage.LedgerTable = s },
	"exceptions_table":  func(c *Config, s string) { c.Storage.ExceptionsTable = s },
	"redis_url":         func(c *Config, s string) { c.Storage.RedisURL = s },
	"sns_topic_arn":     func(c *Config, s string) { c.Notify.SNSTopicARN = s },
	"slack_webhook_url": func(c *Config, s string) { c.Notify.Slack.WebhookURL = s },
	"nats_url":          func(c *Config, s string) { c.Notify.NATS.URL = s },
	"log_level":         func(c *Config, s string) { c.Log.Level = s },
	"log_format":        func(c *Config, s string) { c.Log.Format = s },
}

// NewEnv returns a viper instance bound to the GOVERNOR_ environment
// variables, e.g. GOVERNOR_EXTERNAL_ID
func NewEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	for key := range overrides {
		_ = v.BindEnv(key)
	}
	return v
}

// ApplyOverrides copies every key set in v onto the config
func (c *Config) ApplyOverrides(v *viper.Viper) {
	for key, set := range overrides {
		if v.IsSet(key) {
			if value := v.GetString(key); value != "" {
				set(c, value)
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.AWS.Partition == "" {
		cfg.AWS.Partition = "aws"
	}

	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 8
	}
	if cfg.Queue.MaxReceiveCount <= 0 {
		cfg.Queue.MaxReceiveCount = 5
	}

	if cfg.Storage.Ledger == "" {
		cfg.Storage.Ledger = BackendBolt
	}
	if cfg.Storage.Exceptions == "" {
		cfg.Storage.Exceptions = cfg.Storage.Ledger
		if cfg.Storage.Exceptions == BackendRedis {
			cfg.Storage.Exceptions = BackendBolt
		}
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./governor-data"
	}
	if cfg.Storage.RedisPrefix == "" {
		cfg.Storage.RedisPrefix = "governor"
	}
	if cfg.Storage.Retention <= 0 {
		cfg.Storage.Retention = 730 * 24 * time.Hour
	}
	if cfg.Storage.ClaimLease <= 0 {
		cfg.Storage.ClaimLease = 2 * time.Minute
	}

	if cfg.Notify.SendTimeout <= 0 {
		cfg.Notify.SendTimeout = 15 * time.Second
	}
	if cfg.Notify.Wait <= 0 {
		cfg.Notify.Wait = 3 * time.Second
	}

	if cfg.Remediation.Timeout <= 0 {
		cfg.Remediation.Timeout = 5 * time.Second
	}
	if cfg.Remediation.RequiredTags == (types.RequiredTags{}) {
		cfg.Remediation.RequiredTags = types.DefaultRequiredTags()
	}

	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = "./governor-journal"
	}
	if cfg.Journal.RetentionDays <= 0 {
		cfg.Journal.RetentionDays = 90
	}
	if cfg.Journal.MaxFileSize <= 0 {
		cfg.Journal.MaxFileSize = 64 * 1024 * 1024
	}

	if cfg.Daemon.ListenAddr == "" {
		cfg.Daemon.ListenAddr = ":9090"
	}
	if cfg.Daemon.MaintenanceInterval <= 0 {
		cfg.Daemon.MaintenanceInterval = time.Hour
	}
	if cfg.Daemon.ShutdownTimeout <= 0 {
		cfg.Daemon.ShutdownTimeout = 30 * time.Second
	}

	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "governor"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.AWS.RoleName != "" && c.AWS.ExternalID == "" {
		errs = append(errs, errors.New("aws: external_id is required when role_name is set"))
	}

	switch c.Storage.Ledger {
	case BackendMemory, BackendBolt:
	case BackendDynamoDB:
		if c.Storage.LedgerTable == "" {
			errs = append(errs, errors.New("storage: ledger_table is required for the dynamodb ledger"))
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage: redis_url is required for the redis ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown ledger backend %q", c.Storage.Ledger))
	}

	switch c.Storage.Exceptions {
	case BackendMemory, BackendBolt:
	case BackendDynamoDB:
		if c.Storage.ExceptionsTable == "" {
			errs = append(errs, errors.New("storage: exceptions_table is required for dynamodb exceptions"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unsupported exceptions backend %q", c.Storage.Exceptions))
	}

	for rule, sev := range c.Policy.SeverityOverrides {
		if _, err := types.ParseSeverity(sev); err != nil {
			errs = append(errs, fmt.Errorf("policy: severity override for %s: %w", rule, err))
		}
	}

	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("otel: sample_ratio %v is outside [0, 1]", c.OTEL.SampleRatio))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SeverityOverrides returns the parsed policy overrides. Validate has
// already rejected unknown values.
func (c *Config) SeverityOverrides() map[string]types.Severity {
	out := make(map[string]types.Severity, len(c.Policy.SeverityOverrides))
	for rule, value := range c.Policy.SeverityOverrides {
		if sev, err := types.ParseSeverity(value); err == nil {
			out[rule] = sev
		}
	}
	return out
}

// ProductionAccounts returns the configured production account set
func (c *Config) ProductionAccounts() types.ProductionAccounts {
	return types.NewProductionAccounts(c.Policy.ProductionAccounts...)
}
