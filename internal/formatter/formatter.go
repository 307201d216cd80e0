// Package formatter turns raw model output into platform-ready replies.
package formatter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mathbot/internal/domain"
)

// LegacyImageNotice replaces inline base64 images, which no supported
// platform can render from message text.
const LegacyImageNotice = "I've generated a plot for you, but I can't display it directly in Slack. Here's the textual explanation instead."

const plotFailedNote = "(I couldn't render the plot for this answer.)"

var (
	plotBlock = regexp.MustCompile("(?s)```plot[ \\t]*\\n?(.*?)```")
)

// Config configures a Formatter.
type Config struct {
	// Markups maps a platform name to its dialect. Unlisted platforms get
	// MarkupPlain.
	Markups map[string]Markup
	Plotter domain.Plotter // nil disables plot rendering
	Logger  *slog.Logger
}

// Formatter converts model responses into outgoing replies.
type Formatter struct {
	markups map[string]Markup
	plotter domain.Plotter
	logger  *slog.Logger
}

// DefaultMarkups covers the built-in transports.
func DefaultMarkups() map[string]Markup {
	return map[string]Markup{
		"slack":    MarkupSlack,
		"telegram": MarkupTelegram,
		"cli":      MarkupPlain,
	}
}

func New(cfg Config) *Formatter {
	if cfg.Markups == nil {
		cfg.Markups = DefaultMarkups()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Formatter{markups: cfg.Markups, plotter: cfg.Plotter, logger: cfg.Logger}
}

// Format builds the reply for ev from the model response. Visualization
// problems never fail the reply; they mark it Degraded with
// domain.ErrVisualizationFailed and append a short note.
func (f *Formatter) Format(ctx context.Context, ev domain.IncomingEvent, resp *domain.ModelResponse) domain.OutgoingReply {
	reply := domain.OutgoingReply{
		Platform:  ev.Platform,
		ChannelID: ev.ChannelID,
		ThreadID:  ev.ReplyThread(),
	}
	text := ""
	if resp != nil {
		text = resp.Text
	}

	text, directive, found := ExtractPlot(text)
	var note string

	if strings.Contains(text, "image_base64") {
		text = strings.TrimSpace(LegacyImageNotice + "\n\n" + dropLegacyImage(text))
		reply.Degraded = domain.ErrVisualizationFailed
	}

	if found {
		att, err := f.renderPlot(ctx, directive)
		if err != nil {
			f.logger.Warn("plot rendering failed",
				"event_id", ev.ID,
				"platform", ev.Platform,
				"error", err,
			)
			reply.Degraded = fmt.Errorf("%w: %v", domain.ErrVisualizationFailed, err)
			note = plotFailedNote
		} else {
			reply.Attachment = att
		}
	}

	markup, ok := f.markups[ev.Platform]
	if !ok {
		markup = MarkupPlain
	}
	out := Convert(text, markup)
	if note != "" {
		if markup == MarkupPlain {
			out = strings.TrimSpace(out + "\n\n" + note)
		} else {
			out = strings.TrimSpace(out + "\n\n_" + note + "_")
		}
	}
	if out == "" && reply.Attachment != nil {
		out = "Here's the plot."
	}
	reply.Text = out
	return reply
}

func (f *Formatter) renderPlot(ctx context.Context, raw string) (*domain.Attachment, error) {
	if f.plotter == nil {
		return nil, fmt.Errorf("plotting disabled")
	}
	req, err := ParsePlot(raw)
	if err != nil {
		return nil, err
	}
	return f.plotter.Render(ctx, req)
}

// dropLegacyImage removes lines carrying an image_base64 payload.
func dropLegacyImage(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if !strings.Contains(l, "image_base64") {
			kept = append(kept, l)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ExtractPlot removes every plot block from text and returns the body of
// the first one.
func ExtractPlot(text string) (rest, directive string, found bool) {
	m := plotBlock.FindStringSubmatch(text)
	if m == nil {
		return text, "", false
	}
	rest = plotBlock.ReplaceAllString(text, "")
	return strings.TrimSpace(rest), strings.TrimSpace(m[1]), true
}

// ParsePlot decodes a plot directive body.
func ParsePlot(raw string) (domain.PlotRequest, error) {
	var req domain.PlotRequest
	if strings.TrimSpace(raw) == "" {
		return req, fmt.Errorf("empty plot directive")
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return req, fmt.Errorf("parse plot directive: %w", err)
	}
	if strings.TrimSpace(req.Function) == "" {
		return req, fmt.Errorf("plot directive has no function")
	}
	return req, nil
}
