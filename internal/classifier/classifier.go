// Package classifier decides whether a chat message is a math question worth
// answering. It is a pure, ordered set of keyword and pattern heuristics.
package classifier

import (
	"regexp"
	"strings"

	"mathbot/internal/domain"
)

// Rule names reported in ClassificationResult.MatchedPattern.
const (
	RuleEquation       = "equation"
	RuleComplexity     = "complexity"
	RuleStatistics     = "statistics"
	RuleAlgorithm      = "algorithm"
	RuleMathKeyword    = "math_keyword"
	RuleNumericSymbols = "numeric_symbols"
	RuleCustom         = "custom_keyword"
)

type rule struct {
	name    string
	pattern *regexp.Regexp
}

// Default rules, evaluated in order. The first match wins.
var defaultRules = []rule{
	{RuleEquation, regexp.MustCompile(`(?i)` +
		`\b\d*[a-z]\s*(?:\^|\*\*)\s*\d+` + // x^2, 3x**2
		`|\b\d+\s*[a-z]\b(?:\s*[-+*/]\s*\d+)*\s*=\s*-?\d+` + // 2x + 3 = 7
		`|\b[a-z]\s*[-+*/]\s*\d+\s*=\s*-?\d+`)}, // x - 4 = 10
	{RuleComplexity, regexp.MustCompile(`(?i)` +
		`(?:^|[^a-z0-9])[oθω]\s*\(\s*(?:1|log|n|v|e|m|k)[^)]{0,24}\)` +
		`|\b(?:time|space|runtime|asymptotic)\s+complexity\b` +
		`|\bbig[\s-]?(?:o|theta|omega)\b`)},
	{RuleStatistics, regexp.MustCompile(`(?i)\b(?:` +
		`median|variance|std\s?dev|standard\s+deviation|probability|probabilities|` +
		`percentiles?|quartiles?|interquartile|regression|distributions?|correlation|` +
		`bayes(?:ian)?|hypothesis\s+test(?:ing)?|p-values?|confidence\s+intervals?|` +
		`(?:arithmetic\s+)?mean\s+(?:of|and|value|squared)|average\s+of|expected\s+value` +
		`)\b`)},
	{RuleAlgorithm, regexp.MustCompile(`(?i)\b(?:` +
		`(?:quick|merge|heap|bubble|insertion|selection|radix|counting|bucket|topological)\s?sort|` +
		`binary\s+search|dijkstra'?s?|bellman[-\s]ford|floyd[-\s]warshall|kruskal'?s?|prim'?s\s+algorithm|` +
		`bfs|dfs|breadth[-\s]first(?:\s+search)?|depth[-\s]first(?:\s+search)?|` +
		`dynamic\s+programming|memoi[sz]ation|knapsack|fibonacci|big\s+integer` +
		`)\b`)},
	{RuleMathKeyword, regexp.MustCompile(`(?i)\b(?:` +
		`math(?:s|ematics|ematical)?|algorithms?|complexity|equations?|formulas?|formulae|` +
		`calculus|linear\s+algebra|statistics|probability|optimi[sz]ation|functions?|` +
		`graphs?|plot(?:s|ting)?|solve[sd]?|solving|compute[sd]?|computing|` +
		`matri(?:x|ces)|vectors?|derivatives?|integrals?|theorems?|proofs?` +
		`)\b`)},
	// A bare minus or slash also shows up in times, scores and dates, so it
	// only counts when the expression is asked about: "10 - 3 =", "10 - 3?".
	{RuleNumericSymbols, regexp.MustCompile(
		`\d\s*[+*×÷^%]\s*\d` +
			`|\d\s*[-/]\s*\d+(?:\.\d+)?\s*=` +
			`|\d\s+[-/]\s+\d+(?:\.\d+)?\s*\?\s*$` +
			`|[∑∫√π≤≥≠∞∂Δ±∀∃∈]`)},
}

// Classifier applies the ordered rule set to message text.
type Classifier struct {
	rules []rule
}

// New returns a classifier with the default rules followed by a word-boundary
// rule for each extra keyword.
func New(extraKeywords []string) *Classifier {
	rules := make([]rule, len(defaultRules), len(defaultRules)+1)
	copy(rules, defaultRules)

	var quoted []string
	for _, kw := range extraKeywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(kw))
	}
	if len(quoted) > 0 {
		rules = append(rules, rule{
			name:    RuleCustom,
			pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
		})
	}
	return &Classifier{rules: rules}
}

// Classify reports whether text looks math related and which rule matched.
func (c *Classifier) Classify(text string) domain.ClassificationResult {
	if strings.TrimSpace(text) == "" {
		return domain.ClassificationResult{}
	}
	for _, r := range c.rules {
		if r.pattern.MatchString(text) {
			return domain.ClassificationResult{IsMathRelated: true, MatchedPattern: r.name}
		}
	}
	return domain.ClassificationResult{}
}

var std = New(nil)

// Classify runs the default rule set.
func Classify(text string) domain.ClassificationResult {
	return std.Classify(text)
}
