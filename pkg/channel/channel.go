// Package channel is the contract between the outbox publisher and the
// notification transport. Drivers live in pkg/pubsub and pkg/rabbitmq; Memory
// is used for local runs and tests.
package channel

import (
	"context"
	"errors"
	"fmt"
)

// ErrMessageTooLarge is returned when an encoded message exceeds the driver limit.
var ErrMessageTooLarge = errors.New("message exceeds channel size limit")

// Message is one notification. Key identifies the payment and is used for
// ordering and consumer dedupe.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Result resolves once the transport accepted or rejected the message. The
// returned id is only for observability.
type Result interface {
	Get(ctx context.Context) (string, error)
}

// Sender submits messages without waiting for the transport acknowledgement.
type Sender interface {
	SendAsync(ctx context.Context, msg Message) Result
	Ping(ctx context.Context) error
	Close() error
}

// Limits are the size and encoding settings handed to a driver at construction.
type Limits struct {
	MaxMessageBytes int
	Gzip            bool
}

// CheckSize enforces MaxMessageBytes on an encoded body.
func (l Limits) CheckSize(body []byte) error {
	if l.MaxMessageBytes > 0 && len(body) > l.MaxMessageBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(body), l.MaxMessageBytes)
	}
	return nil
}

type failedResult struct {
	err error
}

func (r failedResult) Get(context.Context) (string, error) {
	return "", r.err
}

// Failed returns a Result that resolves immediately with err.
func Failed(err error) Result {
	return failedResult{err: err}
}

// ResultFunc adapts a function to Result.
type ResultFunc func(ctx context.Context) (string, error)

func (f ResultFunc) Get(ctx context.Context) (string, error) {
	return f(ctx)
}
