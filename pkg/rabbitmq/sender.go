// Package rabbitmq sends notifications to a topic exchange with publisher
// confirms. A message counts as sent only once the broker acks it.
package rabbitmq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/angelmondragon/payments-core/pkg/channel"
	"github.com/angelmondragon/payments-core/pkg/config"
	"github.com/angelmondragon/payments-core/pkg/logger"
)

// ErrNacked is returned when the broker refuses a message.
var ErrNacked = errors.New("broker nacked message")

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// confirmPublisher is the slice of an AMQP channel the sender needs.
type confirmPublisher interface {
	publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (confirmation, uint64, error)
	closed() bool
	close() error
}

type amqpChannel struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (a *amqpChannel) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (confirmation, uint64, error) {
	dc, err := a.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return nil, 0, err
	}
	return dc, dc.DeliveryTag, nil
}

func (a *amqpChannel) closed() bool {
	return a.conn.IsClosed() || a.ch.IsClosed()
}

func (a *amqpChannel) close() error {
	chErr := a.ch.Close()
	connErr := a.conn.Close()
	if chErr != nil && !errors.Is(chErr, amqp.ErrClosed) {
		return chErr
	}
	if connErr != nil && !errors.Is(connErr, amqp.ErrClosed) {
		return connErr
	}
	return nil
}

// Options configure a Sender.
type Options struct {
	Exchange   string
	RoutingKey string
	Limits     channel.Limits
}

type Sender struct {
	mu   sync.Mutex
	pub  confirmPublisher
	opts Options
	now  func() time.Time
}

var _ channel.Sender = (*Sender)(nil)

// Dial connects, enables confirm mode and declares the durable topic exchange.
func Dial(ctx context.Context, cfg config.RabbitMQConfig, opts Options, logg *logger.Logger) (*Sender, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if opts.Exchange == "" {
		opts.Exchange = cfg.Exchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", opts.Exchange, err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", opts.Exchange), "rabbitmq sender ready")
	}
	return newSender(&amqpChannel{conn: conn, ch: ch}, opts), nil
}

func newSender(pub confirmPublisher, opts Options) *Sender {
	return &Sender{pub: pub, opts: opts, now: time.Now}
}

func (s *Sender) SendAsync(ctx context.Context, msg channel.Message) channel.Result {
	body, encoding, err := s.encode(msg.Data)
	if err != nil {
		return channel.Failed(err)
	}
	if err := s.opts.Limits.CheckSize(body); err != nil {
		return channel.Failed(err)
	}

	headers := amqp.Table{}
	for k, v := range msg.Attributes {
		headers[k] = v
	}
	publishing := amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: encoding,
		DeliveryMode:    amqp.Persistent,
		MessageId:       msg.Key,
		Timestamp:       s.now().UTC(),
		Headers:         headers,
		Body:            body,
	}

	// Delivery tags are assigned in publish order, so publishes are serialized.
	s.mu.Lock()
	confirm, tag, err := s.pub.publish(ctx, s.opts.Exchange, s.opts.RoutingKey, publishing)
	s.mu.Unlock()
	if err != nil {
		return channel.Failed(fmt.Errorf("publish to %q: %w", s.opts.Exchange, err))
	}

	return channel.ResultFunc(func(ctx context.Context) (string, error) {
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return "", fmt.Errorf("await confirm: %w", err)
		}
		if !acked {
			return "", ErrNacked
		}
		return strconv.FormatUint(tag, 10), nil
	})
}

func (s *Sender) encode(data []byte) ([]byte, string, error) {
	if !s.opts.Limits.Gzip {
		return data, "", nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, "", fmt.Errorf("gzip message: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("gzip message: %w", err)
	}
	return buf.Bytes(), "gzip", nil
}

func (s *Sender) Ping(context.Context) error {
	if s.pub.closed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (s *Sender) Close() error {
	return s.pub.close()
}
