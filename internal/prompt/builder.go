// Package prompt assembles the model request for a math question: the tutor
// persona, the cleaned user text, locally computed reference facts and as much
// thread history as fits the token budget.
package prompt

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"mathbot/internal/domain"
	"mathbot/internal/mathtools"
)

const (
	defaultMaxContextTokens = 4096
	defaultMaxHistoryTurns  = 20
)

// SystemPrompt is the fixed tutor persona sent with every request.
const SystemPrompt = `You are a math tutor for software developers, answering inside a team chat.

For every question:
- Start with a short, direct answer.
- Explain the reasoning step by step. Show intermediate results for calculations.
- When it helps, include a short code example (Python or Go) in a fenced code block.
- For algorithms, state time and space complexity in big-O notation and say which case (best, average, worst) you mean.
- Write math as plain text or simple symbols (x^2, sqrt(x), ≤, ∑). The chat cannot render LaTeX.
- If the question is ambiguous, state the assumption you made.

When a graph of a single-variable function would help, add exactly one fenced block tagged plot
containing JSON, for example:
` + "```plot" + `
{"function": "x**2 - 3", "x_min": -5, "x_max": 5}
` + "```" + `
Use x as the variable and Python-style operators (**, *, /, sin, cos, exp, log, sqrt). Never output images or base64 data.`

var (
	mentionPattern = regexp.MustCompile(`<[@!#][^>]*>`)
	statsTerms     = regexp.MustCompile(`(?i)\b(?:mean|median|average|variance|std\s?dev|standard\s+deviation|quartiles?|percentiles?|iqr|statistics|stats)\b`)
)

// Builder turns classified events into model requests.
type Builder struct {
	systemPrompt     string
	maxContextTokens int
	maxHistoryTurns  int
	skipFacts        bool
	counter          TokenCounter
	logger           *slog.Logger
}

type Config struct {
	SystemPromptExtra string // operator text appended to the persona
	MaxContextTokens  int    // budget for system prompt + history + user text
	MaxHistoryTurns   int
	SkipFacts         bool // don't append locally computed reference facts
	Counter           TokenCounter
	Logger            *slog.Logger
}

func NewBuilder(cfg Config) *Builder {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = defaultMaxContextTokens
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = defaultMaxHistoryTurns
	}
	if cfg.Counter == nil {
		cfg.Counter = EstimateCounter{}
	}
	system := SystemPrompt
	if extra := strings.TrimSpace(cfg.SystemPromptExtra); extra != "" {
		system += "\n\n" + extra
	}
	return &Builder{
		systemPrompt:     system,
		maxContextTokens: cfg.MaxContextTokens,
		maxHistoryTurns:  cfg.MaxHistoryTurns,
		skipFacts:        cfg.SkipFacts,
		counter:          cfg.Counter,
		logger:           cfg.Logger,
	}
}

// CleanText strips platform mention markup (<@U123>, <!here>, <#C1|general>)
// and surrounding whitespace, then decodes the &amp; &lt; &gt; entities Slack
// uses for literal characters.
func CleanText(text string) string {
	return strings.TrimSpace(html.UnescapeString(mentionPattern.ReplaceAllString(text, "")))
}

// Build returns the request for ev. history is the prior turns of the thread,
// oldest first, and may be nil. It fails with domain.ErrInvalidInput when the
// event wasn't classified as math related or carries no text.
func (b *Builder) Build(ev domain.IncomingEvent, cls domain.ClassificationResult, history []domain.Turn) (domain.ModelRequest, error) {
	if !cls.IsMathRelated {
		return domain.ModelRequest{}, fmt.Errorf("%w: event %s is not math related", domain.ErrInvalidInput, ev.ID)
	}
	text := CleanText(ev.RawText)
	if text == "" {
		return domain.ModelRequest{}, fmt.Errorf("%w: no content", domain.ErrInvalidInput)
	}

	user := text
	if facts := ReferenceFacts(text); len(facts) > 0 && !b.skipFacts {
		user += "\n\nReference facts (computed locally, use them if relevant):\n- " + strings.Join(facts, "\n- ")
	}

	req := domain.ModelRequest{
		SystemPrompt: b.systemPrompt,
		UserText:     user,
	}
	req.Context = b.fitHistory(history, b.counter.Count(req.SystemPrompt)+b.counter.Count(req.UserText))

	if b.logger != nil {
		b.logger.Debug("prompt built",
			"event_id", ev.ID,
			"pattern", cls.MatchedPattern,
			"history_turns", len(req.Context),
			"dropped_turns", len(history)-len(req.Context),
		)
	}
	return req, nil
}

// fitHistory keeps the newest turns that fit in the remaining budget.
func (b *Builder) fitHistory(history []domain.Turn, used int) []domain.Turn {
	remaining := b.maxContextTokens - used
	if remaining <= 0 {
		return nil
	}

	turns := make([]domain.Turn, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Text) != "" {
			turns = append(turns, t)
		}
	}

	start := len(turns)
	for i := len(turns) - 1; i >= 0 && len(turns)-i <= b.maxHistoryTurns; i-- {
		cost := b.counter.Count(turns[i].Text)
		if cost > remaining {
			break
		}
		remaining -= cost
		start = i
	}
	if start == len(turns) {
		return nil
	}
	return turns[start:]
}

// ReferenceFacts computes the facts attached to the user turn: complexity
// table entries for algorithms named in text, the roots of a linear or
// quadratic equation found in text, and descriptive statistics when text
// asks about statistics of at least two numbers.
func ReferenceFacts(text string) []string {
	var facts []string
	for _, c := range mathtools.FindAlgorithms(text) {
		facts = append(facts, c.String())
	}
	if eq, ok := mathtools.FindEquation(text); ok {
		if sol, err := mathtools.Solve(eq); err == nil {
			facts = append(facts, sol.String())
		}
	}
	if statsTerms.MatchString(text) {
		if nums := mathtools.ExtractNumbers(text); len(nums) >= 2 {
			if s, err := mathtools.Describe(nums); err == nil {
				facts = append(facts, "statistics of the numbers in the question: "+s.String())
			}
		}
	}
	return facts
}
