// Package gateway calls the external inference service and maps its
// failures onto the pipeline's error kinds.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"mathbot/internal/bus"
	"mathbot/internal/domain"
)

// Backend is one inference API. Complete performs exactly one request.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req domain.ModelRequest) (string, error)
}

const (
	defaultTimeout         = 60 * time.Second
	defaultBreakerCooldown = 30 * time.Second
)

// Config configures a Gateway.
type Config struct {
	Backend Backend
	Timeout time.Duration
	// BreakerFailures is the number of consecutive unavailable/timeout
	// outcomes that open the breaker. Zero disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Events          *bus.EventBus
	Logger          *slog.Logger
}

// Gateway implements domain.ModelGateway on top of a Backend.
type Gateway struct {
	backend Backend
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	events  *bus.EventBus
	logger  *slog.Logger
}

func New(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Gateway{
		backend: cfg.Backend,
		timeout: cfg.Timeout,
		events:  cfg.Events,
		logger:  cfg.Logger,
	}
	if cfg.BreakerFailures > 0 {
		threshold := cfg.BreakerFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Backend.Name(),
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			// Rejected prompts say nothing about upstream health.
			IsSuccessful: func(err error) bool {
				return err == nil || !(errors.Is(err, domain.ErrUpstreamUnavailable) || errors.Is(err, domain.ErrUpstreamTimeout))
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				cfg.Logger.Warn("circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return g
}

// Name returns the backend name.
func (g *Gateway) Name() string { return g.backend.Name() }

// Invoke sends req once. Errors match one of domain.ErrUpstreamTimeout,
// domain.ErrUpstreamUnavailable or domain.ErrUpstreamError.
func (g *Gateway) Invoke(ctx context.Context, req domain.ModelRequest) (*domain.ModelResponse, error) {
	start := time.Now()
	text, err := g.call(ctx, req)
	latency := time.Since(start)

	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout):
		outcome = "timeout"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	g.events.Emit(bus.Event{
		Type:   bus.EventInvoked,
		Source: "gateway",
		Payload: map[string]any{
			"backend": g.backend.Name(),
			"outcome": outcome,
			"latency": latency,
		},
	})

	if err != nil {
		g.logger.Warn("model call failed",
			"backend", g.backend.Name(),
			"outcome", outcome,
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
		return nil, err
	}
	g.logger.Debug("model call succeeded", "backend", g.backend.Name(), "latency_ms", latency.Milliseconds())
	return &domain.ModelResponse{
		Text:      text,
		Backend:   g.backend.Name(),
		LatencyMs: latency.Milliseconds(),
	}, nil
}

func (g *Gateway) call(ctx context.Context, req domain.ModelRequest) (string, error) {
	if g.breaker == nil {
		return g.complete(ctx, req)
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.complete(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, g.backend.Name(), err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (g *Gateway) complete(ctx context.Context, req domain.ModelRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.backend.Complete(callCtx, req)
	if err != nil {
		return "", classify(callCtx, g.backend.Name(), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: empty completion", domain.ErrUpstreamError, g.backend.Name())
	}
	return text, nil
}

// classify maps a backend error onto an upstream error kind.
func classify(ctx context.Context, backend string, err error) error {
	if errors.Is(err, domain.ErrUpstreamTimeout) || errors.Is(err, domain.ErrUpstreamUnavailable) || errors.Is(err, domain.ErrUpstreamError) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamTimeout, backend, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, backend, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamTimeout, backend, err)
	}
	var urlErr *url.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, backend, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamError, backend, err)
}

// statusError builds the error for a non-success HTTP status.
func statusError(backend string, code int, msg string) error {
	return &domain.UpstreamStatusError{Backend: backend, StatusCode: code, Message: truncate(msg, 300)}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
