// Package source feeds compliance notifications from SQS into the pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/orchestrator"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// SQSAPI defines the SQS operations used by the consumer
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Processor handles one raw notification
type Processor interface {
	ProcessRaw(ctx context.Context, raw []byte, delivery orchestrator.Delivery) (*orchestrator.Result, error)
}

// Config holds consumer configuration
type Config struct {
	QueueURL    string
	Workers     int
	MaxMessages int32
	WaitTime    time.Duration
	// VisibilityTimeout overrides the queue default when positive
	VisibilityTimeout time.Duration
	// MaxReceiveCount matches the queue's redrive policy
	MaxReceiveCount int
	DrainTimeout    time.Duration
	ErrorBackoff    time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		MaxMessages:     10,
		WaitTime:        20 * time.Second,
		MaxReceiveCount: 5,
		DrainTimeout:    30 * time.Second,
		ErrorBackoff:    2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = def.MaxMessages
	}
	if c.WaitTime <= 0 || c.WaitTime > 20*time.Second {
		c.WaitTime = def.WaitTime
	}
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = def.MaxReceiveCount
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = def.ErrorBackoff
	}
	return c
}

// Stats counts message dispositions
type Stats struct {
	Received   int64 `json:"received"`
	Processed  int64 `json:"processed"`
	Duplicates int64 `json:"duplicates"`
	Rejected   int64 `json:"rejected"`
	Retried    int64 `json:"retried"`
}

// SQSConsumer long-polls a queue and feeds a bounded worker pool.
// Messages are deleted on success, duplicate or terminal error and left
// for redelivery on retryable errors.
type SQSConsumer struct {
	client    SQSAPI
	processor Processor
	config    Config
	logger    *telemetry.Logger

	ready      atomic.Bool
	received   atomic.Int64
	processed  atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	retried    atomic.Int64
}

// NewSQSConsumer creates a consumer for config.QueueURL
func NewSQSConsumer(client SQSAPI, processor Processor, config Config) (*SQSConsumer, error) {
	if config.QueueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	return &SQSConsumer{
		client:    client,
		processor: processor,
		config:    config.withDefaults(),
		logger:    telemetry.NewLogger("sqs-consumer"),
	}, nil
}

// Ready reports whether the consumer has completed a receive
func (c *SQSConsumer) Ready() bool {
	return c.ready.Load()
}

// Stats returns a snapshot of the counters
func (c *SQSConsumer) Stats() Stats {
	return Stats{
		Received:   c.received.Load(),
		Processed:  c.processed.Load(),
		Duplicates: c.duplicates.Load(),
		Rejected:   c.rejected.Load(),
		Retried:    c.retried.Load(),
	}
}

// Run polls until ctx is cancelled, then lets workers finish in-flight
// messages for up to DrainTimeout.
func (c *SQSConsumer) Run(ctx context.Context) error {
	messages := make(chan sqstypes.Message, c.config.Workers)

	// Workers outlive ctx so an event in progress is not cut off mid-write.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var wg sync.WaitGroup
	for i := 0; i < c.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				c.handle(workCtx, msg)
			}
		}()
	}

	c.logger.WithContext(ctx).Info().
		Str("queue_url", c.config.QueueURL).
		Int("workers", c.config.Workers).
		Msg("sqs consumer started")

	c.poll(ctx, messages)
	close(messages)

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(c.config.DrainTimeout):
		c.logger.WithContext(ctx).Warn().
			Dur("drain_timeout", c.config.DrainTimeout).
			Msg("drain timeout reached, cancelling in-flight events")
		cancelWork()
		<-drained
	}

	c.logger.WithContext(ctx).Info().
		Interface("stats", c.Stats()).
		Msg("sqs consumer stopped")
	return nil
}

func (c *SQSConsumer) poll(ctx context.Context, messages chan<- sqstypes.Message) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.config.QueueURL),
		MaxNumberOfMessages: c.config.MaxMessages,
		WaitTimeSeconds:     int32(c.config.WaitTime / time.Second),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}
	if c.config.VisibilityTimeout > 0 {
		input.VisibilityTimeout = int32(c.config.VisibilityTimeout / time.Second)
	}

	for ctx.Err() == nil {
		out, err := c.client.ReceiveMessage(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithContext(ctx).Error().
				Err(err).
				Str("queue_url", c.config.QueueURL).
				Msg("failed to receive messages")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.ErrorBackoff):
			}
			continue
		}
		c.ready.Store(true)

		for _, msg := range out.Messages {
			select {
			case messages <- msg:
				c.received.Add(1)
			case <-ctx.Done():
				// Not handed off: the message reappears after its visibility timeout.
				return
			}
		}
	}
}

func (c *SQSConsumer) handle(ctx context.Context, msg sqstypes.Message) {
	count := receiveCount(msg)
	delivery := orchestrator.Delivery{
		Redeliverable: count < c.config.MaxReceiveCount,
		ReceiveCount:  count,
	}

	result, err := c.processor.ProcessRaw(ctx, []byte(aws.ToString(msg.Body)), delivery)
	switch {
	case err == nil && result != nil && result.Duplicate:
		c.duplicates.Add(1)
	case err == nil:
		c.processed.Add(1)
	case types.IsRetryable(err):
		c.retried.Add(1)
		c.logger.WithContext(ctx).Warn().
			Err(err).
			Str("message_id", aws.ToString(msg.MessageId)).
			Int("receive_count", count).
			Msg("retryable failure, leaving message for redelivery")
		return
	default:
		c.rejected.Add(1)
		c.logger.WithContext(ctx).Error().
			Err(err).
			Str("message_id", aws.ToString(msg.MessageId)).
			Msg("dropping message after terminal failure")
	}

	if err := c.delete(ctx, msg); err != nil {
		c.logger.WithContext(ctx).Error().
			Err(err).
			Str("message_id", aws.ToString(msg.MessageId)).
			Msg("failed to delete message")
	}
}

func (c *SQSConsumer) delete(ctx context.Context, msg sqstypes.Message) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", aws.ToString(msg.MessageId), err)
	}
	return nil
}

// receiveCount reads ApproximateReceiveCount, treating a missing value as
// the first delivery
func receiveCount(msg sqstypes.Message) int {
	raw, ok := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
