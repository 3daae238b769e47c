// Package publisher delivers audit events to a store and an optional
// downstream sink. Emission is fire-and-forget from the caller's point of
// view: a full buffer drops the event rather than stalling the operation
// that produced it.
package publisher

import (
	"context"
	"errors"
	"sync"

	id "warden/pkg/domain"
	audit "warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

// ErrBufferFull is returned when async emission cannot accept another event.
var ErrBufferFull = errors.New("audit buffer full")

// Store persists audit events and serves the per-user trail.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error)
}

// Sink receives a copy of every event for external fan-out (Kafka, SIEM).
// Sink failures are swallowed; the store remains the source of truth.
type Sink interface {
	Publish(ctx context.Context, event audit.Event) error
}

// Publisher records audit events synchronously or through a buffered worker.
type Publisher struct {
	store Store
	sink  Sink

	buffer chan audit.Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Option configures a Publisher.
type Option func(p *Publisher)

// WithAsyncBuffer switches the publisher to asynchronous mode with the given
// buffer capacity. Zero or negative capacities keep the publisher synchronous.
func WithAsyncBuffer(capacity int) Option {
	return func(p *Publisher) {
		if capacity > 0 {
			p.buffer = make(chan audit.Event, capacity)
		}
	}
}

// WithSink attaches a downstream sink that receives a copy of every event.
func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		p.sink = sink
	}
}

// NewPublisher constructs a publisher writing to the given store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.buffer {
		p.deliver(context.Background(), event)
	}
}

func (p *Publisher) deliver(ctx context.Context, event audit.Event) {
	_ = p.store.Append(ctx, event)
	if p.sink != nil {
		_ = p.sink.Publish(ctx, event)
	}
}

// Emit records an event. The timestamp is stamped and the category derived
// from the action when the caller left them unset. In async mode a full
// buffer drops the event and reports ErrBufferFull; the caller's operation
// must not fail because of it.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.buffer == nil {
		p.deliver(ctx, event)
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrBufferFull
	}
	select {
	case p.buffer <- event:
		p.mu.Unlock()
		return nil
	default:
		p.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrBufferFull
	}
}

// List returns the stored trail for a user.
func (p *Publisher) List(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	return p.store.ListByUser(ctx, userID)
}

// Close drains buffered events and stops the worker. Safe to call once.
func (p *Publisher) Close() {
	if p.buffer == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.buffer)
	p.mu.Unlock()
	<-p.done
}
