package channel

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// Memory keeps every accepted message in process. FailWith, when set, decides
// per message whether the send is rejected.
type Memory struct {
	mu       sync.Mutex
	limits   Limits
	messages []Message
	closed   bool
	FailWith func(Message) error
}

func NewMemory(limits Limits) *Memory {
	return &Memory{limits: limits}
}

func (m *Memory) SendAsync(_ context.Context, msg Message) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Failed(errors.New("memory channel closed"))
	}
	if err := m.limits.CheckSize(msg.Data); err != nil {
		return Failed(err)
	}
	if m.FailWith != nil {
		if err := m.FailWith(msg); err != nil {
			return Failed(err)
		}
	}
	m.messages = append(m.messages, msg)
	id := "mem-" + strconv.Itoa(len(m.messages))
	return ResultFunc(func(context.Context) (string, error) { return id, nil })
}

// Messages returns a copy of everything accepted so far.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory channel closed")
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
