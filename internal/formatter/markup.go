package formatter

import (
	"regexp"
	"strings"
)

// Markup is a target platform's text formatting dialect.
type Markup string

const (
	MarkupSlack    Markup = "slack"    // mrkdwn
	MarkupTelegram Markup = "telegram" // legacy Markdown parse mode
	MarkupPlain    Markup = "plain"
)

var (
	fencePattern   = regexp.MustCompile("^(\\s*)```\\s*([A-Za-z0-9_+-]*)\\s*$")
	headingPattern = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	bulletPattern  = regexp.MustCompile(`^(\s*)[-*+]\s+`)
	boldStars      = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	boldUnders     = regexp.MustCompile(`__([^_\n]+?)__`)
	italicStar     = regexp.MustCompile(`(^|[^*\w])\*([^*\s](?:[^*\n]*?[^*\s])?)\*([^*\w]|$)`)
	strike         = regexp.MustCompile(`~~([^~\n]+?)~~`)
	mdLink         = regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^)\s]+)\)`)

	displayMath = regexp.MustCompile(`\$\$([\s\S]+?)\$\$`)
	inlineMath  = regexp.MustCompile(`\$([^$\n]+?)\$`)
	bracketMath = regexp.MustCompile(`\\[\[(]([\s\S]+?)\\[\])]`)
	fracPattern = regexp.MustCompile(`\\[dt]?frac\{([^{}]*)\}\{([^{}]*)\}`)
	sqrtPattern = regexp.MustCompile(`\\sqrt\{([^{}]*)\}`)
	bracedPower = regexp.MustCompile(`([\^_])\{([^{}]*)\}`)
	textCommand = regexp.MustCompile(`\\(?:text|mathrm|mathbf|mathit|operatorname)\{([^{}]*)\}`)
)

// slackEscape encodes the three characters mrkdwn reserves for links,
// mentions and entities.
var slackEscape = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// boldMark temporarily stands in for converted bold so the italic pass
// doesn't reinterpret it.
const boldMark = "\x00"

var latexSymbols = strings.NewReplacer(
	`\left(`, "(", `\right)`, ")", `\left[`, "[", `\right]`, "]", `\left|`, "|", `\right|`, "|",
	`\cdots`, "⋯", `\cdot`, "·", `\times`, "×", `\div`, "÷", `\pm`, "±", `\mp`, "∓",
	`\leq`, "≤", `\geq`, "≥", `\le`, "≤", `\ge`, "≥", `\neq`, "≠", `\ne`, "≠", `\approx`, "≈",
	`\infty`, "∞", `\sum`, "∑", `\prod`, "∏", `\int`, "∫", `\partial`, "∂", `\nabla`, "∇",
	`\rightarrow`, "→", `\Rightarrow`, "⇒", `\to`, "→", `\in`, "∈", `\forall`, "∀", `\exists`, "∃",
	`\alpha`, "α", `\beta`, "β", `\gamma`, "γ", `\delta`, "δ", `\Delta`, "Δ", `\epsilon`, "ε",
	`\theta`, "θ", `\Theta`, "Θ", `\lambda`, "λ", `\mu`, "μ", `\pi`, "π", `\sigma`, "σ",
	`\Sigma`, "Σ", `\phi`, "φ", `\omega`, "ω", `\Omega`, "Ω",
	`\log`, "log", `\ln`, "ln", `\sin`, "sin", `\cos`, "cos", `\tan`, "tan", `\exp`, "exp",
	`\max`, "max", `\min`, "min", `\lim`, "lim",
	`\ldots`, "...", `\quad`, " ", `\qquad`, "  ", `\,`, " ", `\;`, " ", `\!`, "",
)

// Convert rewrites CommonMark-style model output into the given dialect.
// Fenced code blocks and inline code spans are left untouched apart from
// dropping the fence language tag on Slack.
func Convert(text string, m Markup) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))

	var prose []string
	flush := func() {
		if len(prose) == 0 {
			return
		}
		block := PlainMath(strings.Join(prose, "\n"))
		for _, l := range strings.Split(block, "\n") {
			out = append(out, convertLine(l, m))
		}
		prose = prose[:0]
	}

	inFence := false
	for _, line := range lines {
		if match := fencePattern.FindStringSubmatch(line); match != nil {
			if !inFence {
				flush()
				if m == MarkupSlack {
					line = match[1] + "```"
				}
			}
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence {
			if m == MarkupSlack {
				line = slackEscape.Replace(line)
			}
			out = append(out, line)
			continue
		}
		prose = append(prose, line)
	}
	flush()
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func convertLine(line string, m Markup) string {
	if m == MarkupPlain {
		return line
	}
	if m == MarkupSlack {
		// Before the link rewrite, so the emitted <url|text> survives.
		line = slackEscape.Replace(line)
	}
	if h := headingPattern.FindStringSubmatch(line); h != nil {
		title := boldStars.ReplaceAllString(h[1], "$1")
		return "*" + strings.Trim(title, "*") + "*"
	}
	line = bulletPattern.ReplaceAllString(line, "${1}• ")

	// Odd segments are inline code spans.
	segments := strings.Split(line, "`")
	for i := 0; i < len(segments); i += 2 {
		if i == len(segments)-1 && len(segments)%2 == 0 {
			break // unbalanced trailing backtick; leave the rest alone
		}
		segments[i] = convertInline(segments[i], m)
	}
	return strings.Join(segments, "`")
}

func convertInline(s string, m Markup) string {
	s = boldStars.ReplaceAllString(s, boldMark+"$1"+boldMark)
	s = boldUnders.ReplaceAllString(s, boldMark+"$1"+boldMark)
	s = italicStar.ReplaceAllString(s, "${1}_${2}_${3}")
	s = strings.ReplaceAll(s, boldMark, "*")
	if m == MarkupSlack {
		s = strike.ReplaceAllString(s, "~$1~")
		s = mdLink.ReplaceAllString(s, "<$2|$1>")
	} else {
		s = strike.ReplaceAllString(s, "$1")
	}
	return s
}

// PlainMath removes LaTeX delimiters and rewrites common commands into plain
// text symbols, since chat platforms don't render math.
func PlainMath(s string) string {
	s = displayMath.ReplaceAllStringFunc(s, func(m string) string {
		return latexToText(strings.TrimSpace(m[2 : len(m)-2]))
	})
	s = bracketMath.ReplaceAllStringFunc(s, func(m string) string {
		return latexToText(strings.TrimSpace(m[2 : len(m)-2]))
	})
	s = inlineMath.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[1 : len(m)-1]
		if !looksLikeMath(inner) {
			return m
		}
		return latexToText(inner)
	})
	return s
}

// looksLikeMath tells "$x^2$" and "$a + b$" from "costs $5 or $10".
func looksLikeMath(s string) bool {
	if strings.ContainsAny(s, `\^_=`) {
		return true
	}
	t := strings.TrimSpace(s)
	if len(t) == 1 {
		return isLetter(t[0])
	}
	// Currency pairs leave a space against one of the dollar signs.
	if t != s || !strings.ContainsAny(t, "+-*/<>") {
		return false
	}
	for i := 0; i < len(t); i++ {
		if isLetter(t[i]) {
			return true
		}
	}
	return false
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func latexToText(s string) string {
	for i := 0; i < 3; i++ { // nested fractions unwrap one level per pass
		next := fracPattern.ReplaceAllStringFunc(s, func(m string) string {
			parts := fracPattern.FindStringSubmatch(m)
			return group(parts[1]) + "/" + group(parts[2])
		})
		if next == s {
			break
		}
		s = next
	}
	s = sqrtPattern.ReplaceAllString(s, "√($1)")
	s = textCommand.ReplaceAllString(s, "$1")
	s = bracedPower.ReplaceAllStringFunc(s, func(m string) string {
		parts := bracedPower.FindStringSubmatch(m)
		return parts[1] + group(parts[2])
	})
	s = latexSymbols.Replace(s)
	return s
}

// group parenthesizes compound expressions.
func group(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 1 || !strings.ContainsAny(s, "+-*/ ·×") {
		return s
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		return s
	}
	return "(" + s + ")"
}
