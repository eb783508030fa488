package events

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/shield-moderation/shield-go/internal/awsconf"
)

const sqsReceiveErrorDelay = 2 * time.Second

// sqsAPI is the subset of the SQS client used by sqsSource.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// sqsSource long-polls a queue and deletes messages once handled.
type sqsSource struct {
	id          string
	queueURL    string
	waitSeconds int32
	maxMessages int32
	client      sqsAPI
	log         Logger
}

func newSQSSource(ctx context.Context, cfg SourceConfig, log Logger) (Source, error) {
	if cfg.SQS == nil {
		return nil, fmt.Errorf("source %q missing sqs configuration", cfg.ID)
	}
	awsCfg, err := awsconf.Load(ctx, cfg.SQS.Settings)
	if err != nil {
		return nil, err
	}
	return &sqsSource{
		id:          cfg.ID,
		queueURL:    cfg.SQS.QueueURL,
		waitSeconds: cfg.SQS.WaitSeconds,
		maxMessages: cfg.SQS.MaxMessages,
		client:      sqs.NewFromConfig(awsCfg),
		log:         ensureLogger(log),
	}, nil
}

func (s *sqsSource) ID() string   { return s.id }
func (s *sqsSource) Type() string { return TypeSQS }

// Run polls until ctx is cancelled. Receive failures are logged and retried after a pause.
func (s *sqsSource) Run(ctx context.Context, handle Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: s.maxMessages,
			WaitTimeSeconds:     s.waitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.ErrorObj("sqs source receive failed", "source_sqs_error", map[string]any{
				"source_id": s.id,
				"error":     err.Error(),
			})
			if !sleepCtx(ctx, sqsReceiveErrorDelay) {
				return nil
			}
			continue
		}
		for _, msg := range out.Messages {
			s.process(ctx, msg, handle)
		}
	}
}

func (s *sqsSource) process(ctx context.Context, msg types.Message, handle Handler) {
	evt, err := decodeEvent([]byte(aws.ToString(msg.Body)), aws.ToString(msg.MessageId))
	if err != nil {
		// left on the queue so the redrive policy can dead-letter it
		s.log.WarnObj("sqs source dropped undecodable message", "source_sqs_decode", map[string]any{
			"source_id":  s.id,
			"message_id": aws.ToString(msg.MessageId),
			"error":      err.Error(),
		})
		return
	}
	if err := handle(ctx, evt); err != nil {
		s.log.WarnObj("sqs source handler failed", "source_sqs_handler", map[string]any{
			"source_id": s.id,
			"event_id":  evt.ID,
			"error":     err.Error(),
		})
		return
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		s.log.ErrorObj("sqs source delete failed", "source_sqs_error", map[string]any{
			"source_id": s.id,
			"event_id":  evt.ID,
			"error":     err.Error(),
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
