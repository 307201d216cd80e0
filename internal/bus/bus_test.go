package bus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mathbot/internal/domain"
)

type recordingChannel struct {
	name    string
	sendErr error
	sent    []domain.OutgoingReply
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Start(ctx context.Context, bus domain.MessageBus) error { return nil }

func (c *recordingChannel) Send(ctx context.Context, reply domain.OutgoingReply) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, reply)
	return nil
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(1, testLogger())
	defer b.Close()

	b.Publish(domain.IncomingEvent{ID: "e1", Platform: "slack"})

	select {
	case ev := <-b.Subscribe():
		if ev.ID != "e1" {
			t.Fatalf("expected e1, got %q", ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestInMemoryBus_PublishDropsWhenFull(t *testing.T) {
	b := New(1, testLogger())
	b.publishTimeout = 10 * time.Millisecond
	defer b.Close()

	b.Publish(domain.IncomingEvent{ID: "first"})
	b.Publish(domain.IncomingEvent{ID: "second"})

	if got := len(b.inbound); got != 1 {
		t.Fatalf("expected 1 buffered event, got %d", got)
	}
	if ev := <-b.Subscribe(); ev.ID != "first" {
		t.Fatalf("expected first event to be kept, got %q", ev.ID)
	}
}

func TestInMemoryBus_PublishAfterClose(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()

	// Must not panic on a closed channel.
	b.Publish(domain.IncomingEvent{ID: "late"})
}

func TestInMemoryBus_DeliverRoutesByPlatform(t *testing.T) {
	b := New(1, testLogger())
	slack := &recordingChannel{name: "slack"}
	cli := &recordingChannel{name: "cli"}
	b.Register(slack)
	b.Register(cli)

	err := b.Deliver(context.Background(), domain.OutgoingReply{Platform: "slack", ChannelID: "C1", Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slack.sent) != 1 || len(cli.sent) != 0 {
		t.Fatalf("reply routed wrongly: slack=%d cli=%d", len(slack.sent), len(cli.sent))
	}
}

func TestInMemoryBus_DeliverUnknownPlatform(t *testing.T) {
	b := New(1, testLogger())

	err := b.Deliver(context.Background(), domain.OutgoingReply{Platform: "irc"})
	if !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestInMemoryBus_DeliverKeepsSendCause(t *testing.T) {
	b := New(1, testLogger())
	cause := fmt.Errorf("%w: slack upload plot.png: not_allowed_token_type", domain.ErrVisualizationFailed)
	b.Register(&recordingChannel{name: "slack", sendErr: cause})

	err := b.Deliver(context.Background(), domain.OutgoingReply{Platform: "slack"})
	if !errors.Is(err, domain.ErrDeliveryFailed) || !errors.Is(err, domain.ErrVisualizationFailed) {
		t.Fatalf("expected both sentinels, got %v", err)
	}
}

func TestInMemoryBus_DeliverSendError(t *testing.T) {
	b := New(1, testLogger())
	b.Register(&recordingChannel{name: "slack", sendErr: errors.New("channel_not_found")})

	err := b.Deliver(context.Background(), domain.OutgoingReply{Platform: "slack"})
	if !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}
