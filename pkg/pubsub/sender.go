package pubsub

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/payments-core/pkg/channel"
)

// SenderOptions tune the publisher behind a Sender.
type SenderOptions struct {
	Topic          string
	EnableOrdering bool
	Limits         channel.Limits
}

// Sender publishes notifications to one topic. Pub/Sub batches internally, so
// SendAsync returns as soon as the message is queued.
type Sender struct {
	client    *Client
	publisher *pubsub.Publisher
	opts      SenderOptions
}

var _ channel.Sender = (*Sender)(nil)

func NewSender(client *Client, opts SenderOptions) (*Sender, error) {
	if client == nil {
		return nil, errors.New("pubsub client required")
	}
	publisher := client.Publisher(opts.Topic)
	if publisher == nil {
		return nil, fmt.Errorf("topic %q not configured", opts.Topic)
	}
	publisher.EnableMessageOrdering = opts.EnableOrdering
	if opts.Limits.Gzip {
		publisher.PublishSettings.EnableCompression = true
	}
	return &Sender{client: client, publisher: publisher, opts: opts}, nil
}

func (s *Sender) SendAsync(ctx context.Context, msg channel.Message) channel.Result {
	if err := s.opts.Limits.CheckSize(msg.Data); err != nil {
		return channel.Failed(err)
	}
	out := &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	}
	if s.opts.EnableOrdering {
		out.OrderingKey = msg.Key
	}
	res := s.publisher.Publish(ctx, out)
	if !s.opts.EnableOrdering || msg.Key == "" {
		return res
	}
	// A failed ordered publish pauses the key until it is resumed.
	return channel.ResultFunc(func(ctx context.Context) (string, error) {
		id, err := res.Get(ctx)
		if err != nil {
			s.publisher.ResumePublish(msg.Key)
		}
		return id, err
	})
}

func (s *Sender) Ping(ctx context.Context) error {
	return s.client.EnsureTopicExists(ctx, s.opts.Topic)
}

// Close flushes pending messages and stops the publisher goroutines. The client
// itself is closed by its owner.
func (s *Sender) Close() error {
	s.publisher.Stop()
	return nil
}
