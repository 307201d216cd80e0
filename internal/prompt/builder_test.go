package prompt

import (
	"errors"
	"strings"
	"testing"

	"mathbot/internal/domain"
)

var mathResult = domain.ClassificationResult{IsMathRelated: true, MatchedPattern: "math_keyword"}

// wordCounter counts whitespace separated words so budgets are easy to reason about.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestBuild_RejectsEmptyText(t *testing.T) {
	b := NewBuilder(Config{})
	for _, text := range []string{"", "   ", "<@U123ABC>", " <@U1> <!here> "} {
		_, err := b.Build(domain.IncomingEvent{RawText: text}, mathResult, nil)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("%q: expected ErrInvalidInput, got %v", text, err)
		}
	}
}

func TestBuild_RejectsUnclassified(t *testing.T) {
	b := NewBuilder(Config{})
	_, err := b.Build(domain.IncomingEvent{RawText: "good morning"}, domain.ClassificationResult{}, nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBuild_StripsMentionAndKeepsText(t *testing.T) {
	b := NewBuilder(Config{})
	req, err := b.Build(domain.IncomingEvent{RawText: "<@U0BOT> what is a derivative?"}, mathResult, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.UserText != "what is a derivative?" {
		t.Fatalf("unexpected user text %q", req.UserText)
	}
	if req.SystemPrompt != SystemPrompt {
		t.Fatal("expected the default persona")
	}
	if !strings.Contains(req.SystemPrompt, "math tutor for software developers") {
		t.Fatal("persona missing from system prompt")
	}
}

func TestBuild_AppendsSystemPromptExtra(t *testing.T) {
	b := NewBuilder(Config{SystemPromptExtra: "Answer in French."})
	req, err := b.Build(domain.IncomingEvent{RawText: "solve x^2 = 4"}, mathResult, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(req.SystemPrompt, "\n\nAnswer in French.") {
		t.Fatalf("extra text not appended: %q", req.SystemPrompt[len(req.SystemPrompt)-40:])
	}
}

func TestBuild_ReferenceFactsForAlgorithms(t *testing.T) {
	b := NewBuilder(Config{})
	req, err := b.Build(domain.IncomingEvent{RawText: "What's the time complexity of quicksort?"}, mathResult, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(req.UserText, "What's the time complexity of quicksort?") {
		t.Fatalf("user text must start with the question: %q", req.UserText)
	}
	if !strings.Contains(req.UserText, "Reference facts") || !strings.Contains(req.UserText, "worst O(n²)") {
		t.Fatalf("expected quicksort facts, got %q", req.UserText)
	}
}

func TestBuild_ReferenceFactsForStatistics(t *testing.T) {
	b := NewBuilder(Config{})
	req, err := b.Build(domain.IncomingEvent{RawText: "mean and median of 1, 2, 3, 10"}, mathResult, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(req.UserText, "mean 4,") || !strings.Contains(req.UserText, "median 2.5") {
		t.Fatalf("expected computed statistics, got %q", req.UserText)
	}
}

func TestBuild_ReferenceFactsForEquation(t *testing.T) {
	b := NewBuilder(Config{})
	req, err := b.Build(domain.IncomingEvent{RawText: "solve x^2 - 5x + 6 = 0"}, mathResult, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(req.UserText, "discriminant 1") || !strings.Contains(req.UserText, "x = 2 or x = 3") {
		t.Fatalf("expected equation roots, got %q", req.UserText)
	}
}

func TestBuild_NoFactsForPlainQuestion(t *testing.T) {
	b := NewBuilder(Config{})
	req, _ := b.Build(domain.IncomingEvent{RawText: "explain the chain rule"}, mathResult, nil)
	if strings.Contains(req.UserText, "Reference facts") {
		t.Fatalf("unexpected facts: %q", req.UserText)
	}
}

func TestBuild_HistoryTrimmedOldestFirst(t *testing.T) {
	b := NewBuilder(Config{MaxContextTokens: 1000, Counter: wordCounter{}})
	system := wordCounter{}.Count(b.systemPrompt)
	// Leave room for the user text (2 words) and exactly two 3-word turns.
	b.maxContextTokens = system + 2 + 6

	history := []domain.Turn{
		{Role: domain.RoleUser, Text: "one two three"},
		{Role: domain.RoleAssistant, Text: "four five six"},
		{Role: domain.RoleUser, Text: "seven eight nine"},
	}
	req, err := b.Build(domain.IncomingEvent{RawText: "integral please"}, mathResult, history)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Context) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(req.Context))
	}
	if req.Context[0].Text != "four five six" || req.Context[1].Text != "seven eight nine" {
		t.Fatalf("expected the newest turns in order, got %+v", req.Context)
	}
}

func TestBuild_HistoryTurnLimit(t *testing.T) {
	b := NewBuilder(Config{MaxContextTokens: 100000, MaxHistoryTurns: 1})
	history := []domain.Turn{
		{Role: domain.RoleUser, Text: "first"},
		{Role: domain.RoleAssistant, Text: ""},
		{Role: domain.RoleAssistant, Text: "second"},
	}
	req, _ := b.Build(domain.IncomingEvent{RawText: "matrix inverse?"}, mathResult, history)
	if len(req.Context) != 1 || req.Context[0].Text != "second" {
		t.Fatalf("expected only the newest turn, got %+v", req.Context)
	}
}

func TestBuild_NoBudgetForHistory(t *testing.T) {
	b := NewBuilder(Config{MaxContextTokens: 1})
	req, _ := b.Build(domain.IncomingEvent{RawText: "solve for x"}, mathResult,
		[]domain.Turn{{Role: domain.RoleUser, Text: "earlier"}})
	if req.Context != nil {
		t.Fatalf("expected no history, got %+v", req.Context)
	}
}

func TestEstimateCounter(t *testing.T) {
	c := EstimateCounter{}
	if c.Count("") != 0 {
		t.Fatal("empty text should cost nothing")
	}
	if got := c.Count("abcd"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := c.Count("abcde"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestBuild_SkipFacts(t *testing.T) {
	b := NewBuilder(Config{SkipFacts: true})
	req, err := b.Build(domain.IncomingEvent{RawText: "What's the time complexity of quicksort?"}, mathResult, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(req.UserText, "Reference facts") {
		t.Fatalf("facts appended despite SkipFacts: %q", req.UserText)
	}
}

func TestCleanText_DecodesSlackEntities(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<@U123> is n &lt; 5 &amp;&amp; n &gt; 1?", "is n < 5 && n > 1?"},
		{"&lt;@U999&gt; literal", "<@U999> literal"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
