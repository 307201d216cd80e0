// Package dispatcher drives each inbound event through
// classify → prompt → invoke → format → reply.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"mathbot/internal/bus"
	"mathbot/internal/domain"
	"mathbot/internal/prompt"
)

// State is a step of the per-event pipeline.
type State string

const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StateIgnored    State = "ignored"
	StatePrompted   State = "prompted"
	StateInvoked    State = "invoked"
	StateFormatted  State = "formatted"
	StateReplied    State = "replied"
	StateFailed     State = "failed"
)

// Outcome reasons.
const (
	ReasonNotMath             = "not_math"
	ReasonThrottled           = "throttled"
	ReasonInvalidInput        = "invalid_input"
	ReasonUpstreamTimeout     = "upstream_timeout"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonUpstreamError       = "upstream_error"
	ReasonDeliveryFailed      = "delivery_failed"
	ReasonPanic               = "panic"
)

// DirectPattern marks events answered without consulting the classifier.
const DirectPattern = "direct"

// FailureNotice is posted in-thread when an event fails. Error details are
// never shown to users.
const FailureNotice = "Sorry, I couldn't process that right now."

const (
	defaultWorkers = 5
	ackTimeout     = 5 * time.Second
	replyTimeout   = 30 * time.Second
)

// Outcome is the terminal result of handling one event.
type Outcome struct {
	State    State
	Reason   string
	Err      error
	Degraded error // set on Replied when the reply lost content
}

type Classifier interface {
	Classify(text string) domain.ClassificationResult
}

type PromptBuilder interface {
	Build(ev domain.IncomingEvent, cls domain.ClassificationResult, history []domain.Turn) (domain.ModelRequest, error)
}

type Formatter interface {
	Format(ctx context.Context, ev domain.IncomingEvent, resp *domain.ModelResponse) domain.OutgoingReply
}

// Config holds all dependencies and tuning parameters for the dispatcher.
type Config struct {
	Bus        domain.MessageBus
	Classifier Classifier
	Prompt     PromptBuilder
	Gateway    domain.ModelGateway
	Formatter  Formatter
	Events     *bus.EventBus // optional observers (metrics)
	Limiter    *RateLimiter  // nil = unlimited
	Logger     *slog.Logger

	Workers        int  // max events handled concurrently (default 5)
	AnswerMentions bool // direct events skip the classifier
	Acknowledge    bool // react/typing before calling the model
	HistoryTurns   int  // thread turns to fetch; 0 disables history
}

// Dispatcher owns the per-event state machine.
type Dispatcher struct {
	bus            domain.MessageBus
	classifier     Classifier
	prompt         PromptBuilder
	gateway        domain.ModelGateway
	formatter      Formatter
	events         *bus.EventBus
	limiter        *RateLimiter
	logger         *slog.Logger
	workers        int
	answerMentions bool
	acknowledge    bool
	historyTurns   int
}

func New(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		bus:            cfg.Bus,
		classifier:     cfg.Classifier,
		prompt:         cfg.Prompt,
		gateway:        cfg.Gateway,
		formatter:      cfg.Formatter,
		events:         cfg.Events,
		limiter:        cfg.Limiter,
		logger:         cfg.Logger,
		workers:        cfg.Workers,
		answerMentions: cfg.AnswerMentions,
		acknowledge:    cfg.Acknowledge,
		historyTurns:   cfg.HistoryTurns,
	}
}

// Run consumes inbound events with bounded concurrency until ctx is done or
// the bus closes, then waits for in-flight events.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "workers", d.workers)

	sem := make(chan struct{}, d.workers)
	inbound := d.bus.Subscribe()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return nil
		case ev, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func(ev domain.IncomingEvent) {
				defer wg.Done()
				defer func() { <-sem }()
				d.Handle(ctx, ev)
			}(ev)
		}
	}
}

// Handle runs one event to a terminal state. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.IncomingEvent) (out Outcome) {
	log := d.logger.With("event_id", ev.ID, "platform", ev.Platform, "channel", ev.ChannelID)
	state := StateReceived

	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panic", "state", state, "panic", r, "stack", string(debug.Stack()))
			out = Outcome{State: StateFailed, Reason: ReasonPanic, Err: fmt.Errorf("panic in state %s: %v", state, r)}
			d.notifyFailure(ctx, ev, log)
		}
		d.finish(ev, out, log)
	}()

	d.emit(bus.EventReceived, ev, nil)

	// Classified
	text := prompt.CleanText(ev.RawText)
	var cls domain.ClassificationResult
	if ev.Direct && d.answerMentions {
		cls = domain.ClassificationResult{IsMathRelated: true, MatchedPattern: DirectPattern}
	} else {
		cls = d.classifier.Classify(text)
	}
	state = StateClassified
	d.emit(bus.EventClassified, ev, map[string]any{"pattern": cls.MatchedPattern, "math": cls.IsMathRelated})

	if !cls.IsMathRelated {
		log.Debug("event ignored", "reason", ReasonNotMath)
		return Outcome{State: StateIgnored, Reason: ReasonNotMath}
	}
	if !d.limiter.Allow(ev.Platform + ":" + ev.AuthorID) {
		log.Info("event ignored", "reason", ReasonThrottled, "author", ev.AuthorID)
		return Outcome{State: StateIgnored, Reason: ReasonThrottled}
	}

	ch, _ := d.bus.Channel(ev.Platform)
	if d.acknowledge {
		d.ack(ctx, ch, ev, log)
	}

	// Prompted
	history := d.history(ctx, ch, ev, log)
	req, err := d.prompt.Build(ev, cls, history)
	if err != nil {
		log.Warn("prompt rejected", "error", err)
		d.notifyFailure(ctx, ev, log)
		return Outcome{State: StateFailed, Reason: ReasonInvalidInput, Err: err}
	}
	state = StatePrompted

	// Invoked
	resp, err := d.gateway.Invoke(ctx, req)
	if err != nil {
		log.Error("model call failed", "pattern", cls.MatchedPattern, "error", err)
		d.notifyFailure(ctx, ev, log)
		return Outcome{State: StateFailed, Reason: upstreamReason(err), Err: err}
	}
	state = StateInvoked

	// Formatted
	reply := d.formatter.Format(ctx, ev, resp)
	state = StateFormatted
	if reply.Degraded != nil {
		log.Warn("reply degraded", "error", reply.Degraded)
		d.emit(bus.EventDegraded, ev, map[string]any{"error": reply.Degraded.Error()})
	}

	// Replied
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	if err := d.bus.Deliver(sendCtx, reply); err != nil {
		// The text went out; only the attachment is missing.
		if errors.Is(err, domain.ErrVisualizationFailed) {
			log.Warn("attachment delivery failed", "error", err)
			d.emit(bus.EventDegraded, ev, map[string]any{"error": err.Error()})
			state = StateReplied
			return Outcome{State: StateReplied, Degraded: err}
		}
		log.Error("reply delivery failed", "error", err)
		d.notifyFailure(ctx, ev, log)
		return Outcome{State: StateFailed, Reason: ReasonDeliveryFailed, Err: err}
	}
	state = StateReplied
	return Outcome{State: StateReplied, Degraded: reply.Degraded}
}

func (d *Dispatcher) finish(ev domain.IncomingEvent, out Outcome, log *slog.Logger) {
	payload := map[string]any{"reason": out.Reason}
	switch out.State {
	case StateReplied:
		log.Info("event replied", "degraded", out.Degraded != nil)
		d.emit(bus.EventReplied, ev, payload)
	case StateIgnored:
		d.emit(bus.EventIgnored, ev, payload)
	case StateFailed:
		log.Warn("event failed", "reason", out.Reason, "error", out.Err)
		d.emit(bus.EventFailed, ev, payload)
	}
}

func (d *Dispatcher) ack(ctx context.Context, ch domain.Channel, ev domain.IncomingEvent, log *slog.Logger) {
	acker, ok := ch.(domain.Acknowledger)
	if !ok {
		return
	}
	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if err := acker.Acknowledge(ackCtx, ev); err != nil {
		log.Debug("acknowledge failed", "error", err)
	}
}

func (d *Dispatcher) history(ctx context.Context, ch domain.Channel, ev domain.IncomingEvent, log *slog.Logger) []domain.Turn {
	if d.historyTurns <= 0 || ev.ThreadID == "" {
		return nil
	}
	fetcher, ok := ch.(domain.HistoryFetcher)
	if !ok {
		return nil
	}
	turns, err := fetcher.History(ctx, ev, d.historyTurns)
	if err != nil {
		log.Warn("history fetch failed, continuing without context", "error", err)
		return nil
	}
	return turns
}

// notifyFailure posts FailureNotice into the event's thread, best effort.
func (d *Dispatcher) notifyFailure(ctx context.Context, ev domain.IncomingEvent, log *slog.Logger) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	err := d.bus.Deliver(sendCtx, domain.OutgoingReply{
		Platform:  ev.Platform,
		ChannelID: ev.ChannelID,
		ThreadID:  ev.ReplyThread(),
		Text:      FailureNotice,
	})
	if err != nil {
		log.Warn("failure notice not delivered", "error", err)
	}
}

func (d *Dispatcher) emit(typ string, ev domain.IncomingEvent, payload map[string]any) {
	if d.events == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload["platform"] = ev.Platform
	payload["event_id"] = ev.ID
	d.events.Emit(bus.Event{Type: typ, Source: "dispatcher", Payload: payload})
}

func upstreamReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return ReasonUpstreamTimeout
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return ReasonUpstreamUnavailable
	default:
		return ReasonUpstreamError
	}
}
