package mathtools

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	ErrNoEquation    = errors.New("no equation found")
	ErrNotPolynomial = errors.New("not a polynomial of degree two or less")
)

var (
	equationSpan = regexp.MustCompile(`((?:\d+(?:\.\d+)?|[A-Za-z]|[-+*/^()]|\s)+)=((?:\d+(?:\.\d+)?|[A-Za-z]|[-+*/^().]|\s)+)`)
	wordField    = regexp.MustCompile(`[A-Za-z]{2,}`)
	letters      = regexp.MustCompile(`[A-Za-z]`)
	implicitMul  = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`(\d)\s*([A-Za-z(])`), "$1*$2"},
		{regexp.MustCompile(`([A-Za-z)])\s*\(`), "$1*("},
		{regexp.MustCompile(`\)\s*([\dA-Za-z])`), ")*$1"},
	}
)

// Solution is the real or complex solution set of a one-variable equation
// of degree at most two, written as A·v² + B·v + C = 0.
type Solution struct {
	Equation     string
	Variable     string
	Degree       int
	A, B, C      float64
	Discriminant float64 // quadratic only
	Roots        []float64
	Complex      bool    // roots are Re ± Im·i
	Re, Im       float64 // set when Complex
	Identity     bool    // holds for every value
}

// FindEquation returns the first "lhs = rhs" span in text with a single
// variable, with the surrounding words dropped.
func FindEquation(text string) (string, bool) {
	for _, m := range equationSpan.FindAllStringSubmatch(text, -1) {
		lhs := trailingMath(m[1])
		rhs := leadingMath(strings.TrimRight(strings.TrimSpace(m[2]), "."))
		if lhs == "" || rhs == "" {
			continue
		}
		vars := map[string]bool{}
		for _, l := range letters.FindAllString(lhs+rhs, -1) {
			vars[l] = true
		}
		if len(vars) != 1 {
			continue
		}
		// "n = 10" is an assignment, not something to solve.
		if vars[lhs] && !letters.MatchString(rhs) || vars[rhs] && !letters.MatchString(lhs) {
			continue
		}
		return lhs + " = " + rhs, true
	}
	return "", false
}

func trailingMath(s string) string {
	fields := strings.Fields(s)
	start := 0
	for i, f := range fields {
		if wordField.MatchString(f) {
			start = i + 1
		}
	}
	return strings.Join(fields[start:], " ")
}

func leadingMath(s string) string {
	fields := strings.Fields(s)
	end := len(fields)
	for i, f := range fields {
		if wordField.MatchString(f) {
			end = i
			break
		}
	}
	return strings.Join(fields[:end], " ")
}

// Solve solves an equation such as "2x + 3 = 7" or "x^2 - 5x + 6 = 0".
// Implicit multiplication and both ^ and ** powers are accepted.
func Solve(equation string) (Solution, error) {
	lhs, rhs, ok := strings.Cut(equation, "=")
	if !ok || strings.Contains(rhs, "=") {
		return Solution{}, ErrNoEquation
	}
	found := letters.FindAllString(lhs+rhs, -1)
	if len(found) == 0 {
		return Solution{}, fmt.Errorf("%w: no variable in %q", ErrNoEquation, equation)
	}
	v := found[0]
	for _, l := range found {
		if l != v {
			return Solution{}, fmt.Errorf("%w: more than one variable in %q", ErrNotPolynomial, equation)
		}
	}

	f, err := compileDifference(lhs, rhs, v)
	if err != nil {
		return Solution{}, err
	}

	// A quadratic is fixed by three samples; two more confirm the degree.
	fm, f0, fp := f(-1), f(0), f(1)
	c := f0
	a := (fp+fm)/2 - c
	b := (fp - fm) / 2
	for _, k := range []float64{a, b, c} {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return Solution{}, fmt.Errorf("%w: %q", ErrNotPolynomial, equation)
		}
	}
	for _, x := range []float64{2, -3, 0.5} {
		want := a*x*x + b*x + c
		got := f(x)
		if math.IsNaN(got) || math.IsInf(got, 0) || math.Abs(got-want) > 1e-7*(1+math.Abs(want)) {
			return Solution{}, fmt.Errorf("%w: %q", ErrNotPolynomial, equation)
		}
	}

	s := Solution{
		Equation: strings.TrimSpace(lhs) + " = " + strings.TrimSpace(rhs),
		Variable: v,
		A:        clean(a),
		B:        clean(b),
		C:        clean(c),
	}
	switch {
	case s.A != 0:
		s.Degree = 2
		s.Discriminant = clean(s.B*s.B - 4*s.A*s.C)
		switch {
		case s.Discriminant > 0:
			sq := math.Sqrt(s.Discriminant)
			s.Roots = []float64{clean((-s.B - sq) / (2 * s.A)), clean((-s.B + sq) / (2 * s.A))}
			sort.Float64s(s.Roots)
		case s.Discriminant == 0:
			s.Roots = []float64{clean(-s.B / (2 * s.A))}
		default:
			s.Complex = true
			s.Re = clean(-s.B / (2 * s.A))
			s.Im = clean(math.Sqrt(-s.Discriminant) / math.Abs(2*s.A))
		}
	case s.B != 0:
		s.Degree = 1
		s.Roots = []float64{clean(-s.C / s.B)}
	default:
		s.Identity = s.C == 0
	}
	return s, nil
}

func compileDifference(lhs, rhs, v string) (func(float64) float64, error) {
	src := "(" + normalizePoly(lhs) + ") - (" + normalizePoly(rhs) + ")"
	env := map[string]any{v: 0.0}
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPolynomial, err)
	}
	var machine vm.VM
	return func(x float64) float64 {
		env[v] = x
		out, err := machine.Run(program, env)
		if err != nil {
			return math.NaN()
		}
		switch n := out.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
		return math.NaN()
	}, nil
}

func normalizePoly(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "^", "**")
	for _, r := range implicitMul {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// clean rounds away sampling noise.
func clean(f float64) float64 {
	r := math.Round(f*1e9) / 1e9
	if r == 0 {
		return 0 // no -0
	}
	return r
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s Solution) String() string {
	var b strings.Builder
	b.WriteString("equation " + s.Equation)
	switch s.Degree {
	case 2:
		fmt.Fprintf(&b, " (quadratic in %s, a=%s, b=%s, c=%s, discriminant %s): ",
			s.Variable, formatNum(s.A), formatNum(s.B), formatNum(s.C), formatNum(s.Discriminant))
	case 1:
		fmt.Fprintf(&b, " (linear in %s): ", s.Variable)
	default:
		b.WriteString(": ")
	}
	switch {
	case s.Identity:
		fmt.Fprintf(&b, "true for every %s", s.Variable)
	case s.Complex:
		fmt.Fprintf(&b, "%s = %s ± %si (no real roots)", s.Variable, formatNum(s.Re), formatNum(s.Im))
	case len(s.Roots) == 0:
		b.WriteString("no solution")
	default:
		parts := make([]string, len(s.Roots))
		for i, r := range s.Roots {
			parts[i] = s.Variable + " = " + formatNum(r)
		}
		b.WriteString(strings.Join(parts, " or "))
		if s.Degree == 2 && len(s.Roots) == 1 {
			b.WriteString(" (double root)")
		}
	}
	return b.String()
}
