package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/otel"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/config"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/exception"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/executor"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/federation"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/notify"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/orchestrator"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/policy"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/storage"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/wal"
)

// app builds the engine's components from configuration. AWS clients
// are created only when a component needs one.
type app struct {
	cfg *config.Config

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	// loadAWS is replaced in tests
	loadAWS func(ctx context.Context) (aws.Config, error)

	closers []func() error
}

func newApp(cfg *config.Config) *app {
	a := &app{cfg: cfg}
	a.loadAWS = a.loadDefaultAWS
	return a
}

func (a *app) loadDefaultAWS(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(a.cfg.AWS.Region),
	}
	if a.cfg.AWS.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(a.cfg.AWS.Profile))
	}
	if a.cfg.AWS.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(a.cfg.AWS.Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// aws returns the hub account configuration, loading it once
func (a *app) aws(ctx context.Context) (aws.Config, error) {
	a.awsOnce.Do(func() {
		a.awsCfg, a.awsErr = a.loadAWS(ctx)
	})
	return a.awsCfg, a.awsErr
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything the app opened, newest first
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// stores opens the ledger and exception stores. Bolt backends share one
// database file.
func (a *app) stores(ctx context.Context) (storage.LedgerStore, storage.ExceptionStore, error) {
	sc := a.cfg.Storage

	var bolt *storage.BoltStore
	openBolt := func() (*storage.BoltStore, error) {
		if bolt != nil {
			return bolt, nil
		}
		store, err := storage.OpenBolt(sc.Path)
		if err != nil {
			return nil, err
		}
		a.onClose(store.Close)
		bolt = store
		return bolt, nil
	}

	var dynamo *dynamodb.Client
	dynamoClient := func() (*dynamodb.Client, error) {
		if dynamo != nil {
			return dynamo, nil
		}
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return nil, err
		}
		dynamo = dynamodb.NewFromConfig(awsCfg)
		return dynamo, nil
	}

	var ledger storage.LedgerStore
	switch sc.Ledger {
	case config.BackendMemory:
		ledger = storage.NewMemoryLedger()
	case config.BackendBolt:
		store, err := openBolt()
		if err != nil {
			return nil, nil, err
		}
		ledger = store
	case config.BackendDynamoDB:
		client, err := dynamoClient()
		if err != nil {
			return nil, nil, err
		}
		ledger = storage.NewDynamoLedger(client, sc.LedgerTable)
	case config.BackendRedis:
		store, err := storage.NewRedisLedger(ctx, sc.RedisURL, sc.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(store.Close)
		ledger = store
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", sc.Ledger)
	}

	var exceptions storage.ExceptionStore
	switch sc.Exceptions {
	case config.BackendMemory:
		exceptions = storage.NewMemoryExceptions()
	case config.BackendBolt:
		store, err := openBolt()
		if err != nil {
			return nil, nil, err
		}
		exceptions = store
	case config.BackendDynamoDB:
		client, err := dynamoClient()
		if err != nil {
			return nil, nil, err
		}
		exceptions = storage.NewDynamoExceptions(client, sc.ExceptionsTable)
	default:
		return nil, nil, fmt.Errorf("unsupported exceptions backend %q", sc.Exceptions)
	}

	return ledger, exceptions, nil
}

// classifier builds the severity resolver chain: the default table with
// configured overrides, optionally behind a Rego module
func (a *app) classifier(ctx context.Context, exceptions policy.ExceptionLookup) (*policy.Classifier, error) {
	table := policy.DefaultSeverityTable().With(a.cfg.SeverityOverrides())

	var resolver policy.SeverityResolver = table
	if a.cfg.Policy.RegoPath != "" {
		rego, err := policy.LoadRegoResolver(ctx, a.cfg.Policy.RegoPath, table, a.cfg.ProductionAccounts())
		if err != nil {
			return nil, err
		}
		resolver = rego
	}
	return policy.NewClassifier(resolver, exceptions), nil
}

// notifier fans out to every configured channel; nil when none is
func (a *app) notifier(ctx context.Context) (notify.Notifier, error) {
	nc := a.cfg.Notify
	var notifiers notify.Multi

	if nc.SNSTopicARN != "" || nc.LambdaFunction != "" {
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return nil, err
		}
		if nc.SNSTopicARN != "" {
			notifiers = append(notifiers, notify.NewSNSNotifier(sns.NewFromConfig(awsCfg), nc.SNSTopicARN))
		}
		if nc.LambdaFunction != "" {
			notifiers = append(notifiers, notify.NewLambdaNotifier(lambda.NewFromConfig(awsCfg), nc.LambdaFunction))
		}
	}
	if nc.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(nc.Slack.WebhookURL, nc.Slack.Channel))
	}
	if nc.NATS.URL != "" {
		natsCfg := notify.DefaultNATSConfig()
		natsCfg.URL = nc.NATS.URL
		if nc.NATS.SubjectPrefix != "" {
			natsCfg.SubjectPrefix = nc.NATS.SubjectPrefix
		}
		n, err := notify.ConnectNATS(natsCfg)
		if err != nil {
			return nil, err
		}
		a.onClose(n.Close)
		notifiers = append(notifiers, n)
	}

	switch len(notifiers) {
	case 0:
		return nil, nil
	case 1:
		return notifiers[0], nil
	}
	return notifiers, nil
}

// journal opens the remediation journal
func (a *app) journal() (*wal.WAL, error) {
	jc := a.cfg.Journal
	w, err := wal.OpenWithConfig(filepath.Clean(jc.Dir), a.journalConfig())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	a.onClose(w.Close)
	return w, nil
}

func (a *app) journalConfig() wal.Config {
	jc := a.cfg.Journal
	walCfg := wal.DefaultConfig()
	walCfg.MaxFileSize = jc.MaxFileSize
	walCfg.RetentionDays = jc.RetentionDays
	return walCfg
}

// engine builds the remediation executor with STS federation
func (a *app) engine(ctx context.Context, journal *wal.WAL) (*executor.Engine, error) {
	awsCfg, err := a.aws(ctx)
	if err != nil {
		return nil, err
	}

	federator, err := federation.NewSTSFederator(sts.NewFromConfig(awsCfg), awsCfg, federation.Options{
		RoleName:    a.cfg.AWS.RoleName,
		ExternalID:  a.cfg.AWS.ExternalID,
		SessionName: a.cfg.AWS.SessionName,
		Partition:   a.cfg.AWS.Partition,
	})
	if err != nil {
		return nil, err
	}

	return executor.NewEngine(
		executor.DefaultCatalog(a.cfg.Remediation.RequiredTags),
		federator,
		executor.AWSClientFactory{},
		a.cfg.ProductionAccounts(),
		journal,
		executor.ExecutorOptions{Timeout: a.cfg.Remediation.Timeout, Partition: a.cfg.AWS.Partition},
	), nil
}

// pipeline is everything needed to process events
type pipeline struct {
	orchestrator *orchestrator.Orchestrator
	ledger       storage.LedgerStore
	workflow     *exception.Workflow
	journal      *wal.WAL
	dispatcher   *notify.Dispatcher
}

// pipeline wires stores, policy, executor and notifications into an
// orchestrator
func (a *app) pipeline(ctx context.Context) (*pipeline, error) {
	ledger, exceptions, err := a.stores(ctx)
	if err != nil {
		return nil, err
	}
	workflow := exception.NewWorkflow(exceptions)

	classifier, err := a.classifier(ctx, workflow)
	if err != nil {
		return nil, err
	}

	journal, err := a.journal()
	if err != nil {
		return nil, err
	}

	engine, err := a.engine(ctx, journal)
	if err != nil {
		return nil, err
	}

	notifier, err := a.notifier(ctx)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(notifier, a.cfg.Notify.SendTimeout, a.cfg.Notify.Wait)

	metrics, err := orchestrator.NewMetrics(otel.Meter("governor"))
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	orch := orchestrator.NewOrchestrator(classifier, ledger, engine, dispatcher,
		orchestrator.WithMetrics(metrics),
		orchestrator.WithClaimLease(a.cfg.Storage.ClaimLease),
		orchestrator.WithRetention(a.cfg.Storage.Retention),
	)

	return &pipeline{
		orchestrator: orch,
		ledger:       ledger,
		workflow:     workflow,
		journal:      journal,
		dispatcher:   dispatcher,
	}, nil
}
