package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "governor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
aws:
  region: eu-west-1
  role_name: CloudGovernanceRemediationRole
  external_id: governance-hub
queue:
  url: https://sqs.eu-west-1.amazonaws.com/111111111111/compliance-events
  workers: 4
storage:
  ledger: dynamodb
  exceptions: dynamodb
  ledger_table: compliance-ledger
  exceptions_table: compliance-exceptions
  claim_lease: 90s
notify:
  sns_topic_arn: arn:aws:sns:eu-west-1:111111111111:governance
  slack:
    webhook_url: https://hooks.slack.com/services/T000/B000/XXX
    channel: "#governance"
policy:
  production_accounts: ["222222222222"]
  severity_overrides:
    required-tags: medium
remediation:
  timeout: 3s
  required_tags:
    owner: Platform
    cost_center: "42"
    project: Governance
    environment: Staging
daemon:
  maintenance_interval: 30m
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "aws", cfg.AWS.Partition)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 5, cfg.Queue.MaxReceiveCount)
	assert.Equal(t, BackendDynamoDB, cfg.Storage.Ledger)
	assert.Equal(t, 90*time.Second, cfg.Storage.ClaimLease)
	assert.Equal(t, 730*24*time.Hour, cfg.Storage.Retention)
	assert.Equal(t, "#governance", cfg.Notify.Slack.Channel)
	assert.Equal(t, 3*time.Second, cfg.Remediation.Timeout)
	assert.Equal(t, "Staging", cfg.Remediation.RequiredTags.Environment)
	assert.Equal(t, 30*time.Minute, cfg.Daemon.MaintenanceInterval)
	assert.Equal(t, "console", cfg.Log.Format)

	assert.Equal(t, map[string]types.Severity{"required-tags": types.SeverityMedium}, cfg.SeverityOverrides())
	assert.True(t, cfg.ProductionAccounts().IsProduction("222222222222"))
	assert.False(t, cfg.ProductionAccounts().IsProduction("111111111111"))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, BackendBolt, cfg.Storage.Ledger)
	assert.Equal(t, BackendBolt, cfg.Storage.Exceptions)
	assert.Equal(t, 2*time.Minute, cfg.Storage.ClaimLease)
	assert.Equal(t, 15*time.Second, cfg.Notify.SendTimeout)
	assert.Equal(t, 5*time.Second, cfg.Remediation.Timeout)
	assert.Equal(t, types.DefaultRequiredTags(), cfg.Remediation.RequiredTags)
	assert.Equal(t, 90, cfg.Journal.RetentionDays)
	assert.Equal(t, ":9090", cfg.Daemon.ListenAddr)
	assert.Equal(t, "governor", cfg.OTEL.ServiceName)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_RedisLedgerKeepsBoltExceptions(t *testing.T) {
	path := writeConfig(t, `
storage:
  ledger: redis
  redis_url: redis://localhost:6379/0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Storage.Ledger)
	assert.Equal(t, BackendBolt, cfg.Storage.Exceptions)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "aws: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "role without external id",
			content: "aws:\n  role_name: CloudGovernanceRemediationRole\n",
			wantErr: "external_id is required",
		},
		{
			name:    "dynamodb ledger without table",
			content: "storage:\n  ledger: dynamodb\n  exceptions: bolt\n",
			wantErr: "ledger_table is required",
		},
		{
			name:    "dynamodb exceptions without table",
			content: "storage:\n  exceptions: dynamodb\n",
			wantErr: "exceptions_table is required",
		},
		{
			name:    "redis without url",
			content: "storage:\n  ledger: redis\n",
			wantErr: "redis_url is required",
		},
		{
			name:    "unknown ledger backend",
			content: "storage:\n  ledger: postgres\n  exceptions: bolt\n",
			wantErr: "unknown ledger backend",
		},
		{
			name:    "redis exceptions",
			content: "storage:\n  exceptions: redis\n",
			wantErr: "unsupported exceptions backend",
		},
		{
			name:    "sample ratio above one",
			content: "otel:\n  sample_ratio: 1.5\n",
			wantErr: "sample_ratio 1.5 is outside",
		},
		{
			name:    "bad severity override",
			content: "policy:\n  severity_overrides:\n    restricted-ssh: critical\n",
			wantErr: "severity override for restricted-ssh",
		},
		{
			name:    "bad log format",
			content: "log:\n  format: xml\n",
			wantErr: "unknown format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorContains(t, err, "invalid config")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadWithOverrides_Environment(t *testing.T) {
	t.Setenv("GOVERNOR_EXTERNAL_ID", "from-env")
	t.Setenv("GOVERNOR_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/111111111111/env-queue")
	t.Setenv("GOVERNOR_LEDGER_TABLE", "env-ledger")
	t.Setenv("GOVERNOR_LOG_LEVEL", "warn")

	path := writeConfig(t, `
aws:
  role_name: CloudGovernanceRemediationRole
queue:
  url: https://sqs.us-east-1.amazonaws.com/111111111111/file-queue
storage:
  ledger: dynamodb
  exceptions: bolt
`)

	cfg, err := LoadWithOverrides(path, NewEnv())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AWS.ExternalID)
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/111111111111/env-queue", cfg.Queue.URL)
	assert.Equal(t, "env-ledger", cfg.Storage.LedgerTable)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyOverrides_UnsetKeysLeaveFileValues(t *testing.T) {
	cfg := &Config{Notify: NotifyConfig{SNSTopicARN: "arn:aws:sns:us-east-1:111111111111:file"}}

	v := viper.New()
	v.Set("slack_webhook_url", "https://hooks.slack.com/services/T000/B000/YYY")
	cfg.ApplyOverrides(v)

	assert.Equal(t, "arn:aws:sns:us-east-1:111111111111:file", cfg.Notify.SNSTopicARN)
	assert.Equal(t, "https://hooks.slack.com/services/T000/B000/YYY", cfg.Notify.Slack.WebhookURL)
}
