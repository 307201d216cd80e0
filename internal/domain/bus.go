package domain

import "context"

// MessageBus routes events from channels to the dispatcher and replies back.
type MessageBus interface {
	Publish(ev IncomingEvent)
	Subscribe() <-chan IncomingEvent
	Register(ch Channel)
	Deliver(ctx context.Context, reply OutgoingReply) error
	Channel(platform string) (Channel, bool)
	Close()
}
