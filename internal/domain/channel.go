package domain

import "context"

// Channel is the interface for a messaging platform transport (Slack, Telegram, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Send(ctx context.Context, reply OutgoingReply) error
}

// Acknowledger is implemented by channels that can show the user the bot is
// working on a message (a reaction, a typing indicator).
type Acknowledger interface {
	Acknowledge(ctx context.Context, ev IncomingEvent) error
}

// HistoryFetcher is implemented by channels that can return the prior turns
// of the thread an event belongs to.
type HistoryFetcher interface {
	History(ctx context.Context, ev IncomingEvent, limit int) ([]Turn, error)
}
