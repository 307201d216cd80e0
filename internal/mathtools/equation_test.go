package mathtools

import (
	"errors"
	"strings"
	"testing"
)

func TestSolve_Linear(t *testing.T) {
	s, err := Solve("2x + 3 = 7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Degree != 1 || len(s.Roots) != 1 || !approx(s.Roots[0], 2) {
		t.Fatalf("expected x = 2, got %+v", s)
	}
	if got := s.String(); got != "equation 2x + 3 = 7 (linear in x): x = 2" {
		t.Errorf("unexpected string: %q", got)
	}
}

func TestSolve_QuadraticTwoRoots(t *testing.T) {
	s, err := Solve("x^2 - 5x + 6 = 0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Degree != 2 || !approx(s.A, 1) || !approx(s.B, -5) || !approx(s.C, 6) {
		t.Fatalf("unexpected coefficients: %+v", s)
	}
	if !approx(s.Discriminant, 1) {
		t.Errorf("expected discriminant 1, got %v", s.Discriminant)
	}
	if len(s.Roots) != 2 || !approx(s.Roots[0], 2) || !approx(s.Roots[1], 3) {
		t.Errorf("expected roots [2 3], got %v", s.Roots)
	}
	if !strings.Contains(s.String(), "x = 2 or x = 3") {
		t.Errorf("roots missing from %q", s.String())
	}
}

func TestSolve_PythonPowerAndRightSide(t *testing.T) {
	s, err := Solve("3x**2 + 2x = 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Roots) != 2 || !approx(s.Roots[0], -1) || !approx(s.Roots[1], 1.0/3) {
		t.Errorf("expected roots [-1 1/3], got %v", s.Roots)
	}
}

func TestSolve_DoubleRoot(t *testing.T) {
	s, err := Solve("x^2 - 2x + 1 = 0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Roots) != 1 || !approx(s.Roots[0], 1) {
		t.Fatalf("expected double root 1, got %v", s.Roots)
	}
	if !strings.Contains(s.String(), "double root") {
		t.Errorf("expected double root note in %q", s.String())
	}
}

func TestSolve_ComplexRoots(t *testing.T) {
	s, err := Solve("y^2 + 2y + 5 = 0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Complex || !approx(s.Re, -1) || !approx(s.Im, 2) {
		t.Fatalf("expected -1 ± 2i, got %+v", s)
	}
	if got := s.String(); !strings.Contains(got, "y = -1 ± 2i") {
		t.Errorf("unexpected string: %q", got)
	}
}

func TestSolve_Parentheses(t *testing.T) {
	s, err := Solve("2(x - 1) = x + 4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Roots) != 1 || !approx(s.Roots[0], 6) {
		t.Errorf("expected x = 6, got %v", s.Roots)
	}
}

func TestSolve_NoSolutionAndIdentity(t *testing.T) {
	s, err := Solve("x + 1 = x + 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Identity || len(s.Roots) != 0 || !strings.HasSuffix(s.String(), "no solution") {
		t.Errorf("expected no solution, got %q", s.String())
	}

	s, err = Solve("2(x + 1) = 2x + 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Identity {
		t.Errorf("expected identity, got %+v", s)
	}
}

func TestSolve_Rejects(t *testing.T) {
	cases := []string{
		"x^3 = 8",
		"1/x = 2",
		"x + y = 3",
		"2 + 2 = 4",
		"x + 1",
	}
	for _, c := range cases {
		if _, err := Solve(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
	if _, err := Solve("x^3 = 8"); !errors.Is(err, ErrNotPolynomial) {
		t.Errorf("expected ErrNotPolynomial, got %v", err)
	}
}

func TestFindEquation(t *testing.T) {
	cases := []struct {
		text, want string
		ok         bool
	}{
		{"solve 2x + 3 = 7", "2x + 3 = 7", true},
		{"what is x if 2x = 6?", "2x = 6", true},
		{"find the roots of x^2 - 5x + 6 = 0 please", "x^2 - 5x + 6 = 0", true},
		{"if n = 10 then what", "", false},
		{"x + y = 3", "", false},
		{"how do I factor x^2 - 4", "", false},
	}
	for _, c := range cases {
		got, ok := FindEquation(c.text)
		if ok != c.ok || got != c.want {
			t.Errorf("FindEquation(%q) = %q, %v; expected %q, %v", c.text, got, ok, c.want, c.ok)
		}
	}
}
