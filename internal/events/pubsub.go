package events

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// pubsubSource receives from a Pub/Sub subscription, acking handled messages and
// nacking failures for redelivery.
type pubsubSource struct {
	id     string
	client *pubsub.Client
	sub    *pubsub.Subscription
	log    Logger
}

func newPubSubSource(ctx context.Context, cfg SourceConfig, log Logger) (Source, error) {
	if cfg.PubSub == nil {
		return nil, fmt.Errorf("source %q missing pubsub configuration", cfg.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var opts []option.ClientOption
	if cfg.PubSub.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.PubSub.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	return &pubsubSource{
		id:     cfg.ID,
		client: client,
		sub:    client.Subscription(cfg.PubSub.Subscription),
		log:    ensureLogger(log),
	}, nil
}

func (p *pubsubSource) ID() string   { return p.id }
func (p *pubsubSource) Type() string { return TypePubSub }

// Run blocks in Subscription.Receive until ctx is cancelled, then closes the client.
func (p *pubsubSource) Run(ctx context.Context, handle Handler) error {
	defer p.client.Close()

	err := p.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		evt, err := decodeEvent(msg.Data, msg.ID)
		if err != nil {
			p.log.WarnObj("pubsub source dropped undecodable message", "source_pubsub_decode", map[string]any{
				"source_id":  p.id,
				"message_id": msg.ID,
				"error":      err.Error(),
			})
			// redelivering a malformed payload cannot succeed
			msg.Ack()
			return
		}
		if err := handle(ctx, evt); err != nil {
			p.log.WarnObj("pubsub source handler failed", "source_pubsub_handler", map[string]any{
				"source_id": p.id,
				"event_id":  evt.ID,
				"error":     err.Error(),
			})
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive %s: %w", p.id, err)
	}
	return nil
}
