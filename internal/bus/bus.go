package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mathbot/internal/domain"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

// InMemoryBus is a Go-channel based bus between transports and the dispatcher.
type InMemoryBus struct {
	inbound        chan domain.IncomingEvent
	channels       map[string]domain.Channel
	mu             sync.RWMutex
	closed         bool
	publishTimeout time.Duration
	logger         *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &InMemoryBus{
		inbound:        make(chan domain.IncomingEvent, bufferSize),
		channels:       make(map[string]domain.Channel),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish blocks up to the publish timeout if the bus is full, then drops the event.
func (b *InMemoryBus) Publish(ev domain.IncomingEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "platform", ev.Platform)
		return
	}

	select {
	case b.inbound <- ev:
	default:
		b.logger.Warn("inbound bus full, waiting...", "platform", ev.Platform, "author", ev.AuthorID)
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- ev:
			b.logger.Info("event delivered after wait", "platform", ev.Platform)
		case <-timer.C:
			b.logger.Error("event dropped: bus full",
				"platform", ev.Platform,
				"event_id", ev.ID,
				"waited", b.publishTimeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.IncomingEvent {
	return b.inbound
}

// Register makes ch the reply sender for its platform.
func (b *InMemoryBus) Register(ch domain.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[ch.Name()] = ch
}

func (b *InMemoryBus) Channel(platform string) (domain.Channel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[platform]
	return ch, ok
}

// Deliver sends reply through the channel registered for reply.Platform.
func (b *InMemoryBus) Deliver(ctx context.Context, reply domain.OutgoingReply) error {
	ch, ok := b.Channel(reply.Platform)
	if !ok {
		return fmt.Errorf("%w: no channel registered for %q", domain.ErrDeliveryFailed, reply.Platform)
	}
	if err := ch.Send(ctx, reply); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrDeliveryFailed, reply.Platform, err)
	}
	return nil
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
