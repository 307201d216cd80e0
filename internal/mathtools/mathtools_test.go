package mathtools

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDescribe_KnownSample(t *testing.T) {
	s, err := Describe([]float64{9, 2, 4, 4, 5, 4, 7, 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checks := []struct {
		name      string
		got, want float64
	}{
		{"mean", s.Mean, 5},
		{"median", s.Median, 4.5},
		{"variance", s.Variance, 4},
		{"stddev", s.StdDev, 2},
		{"min", s.Min, 2},
		{"max", s.Max, 9},
		{"range", s.Range, 7},
		{"q1", s.Q1, 4},
		{"q3", s.Q3, 5.5},
		{"iqr", s.IQR, 1.5},
	}
	for _, c := range checks {
		if !approx(c.got, c.want) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
	if s.Count != 8 {
		t.Errorf("expected count 8, got %d", s.Count)
	}
}

func TestDescribe_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	if _, err := Describe(in); err != nil {
		t.Fatal(err)
	}
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Fatalf("input was reordered: %v", in)
	}
}

func TestDescribe_SingleValue(t *testing.T) {
	s, err := Describe([]float64{42})
	if err != nil {
		t.Fatal(err)
	}
	if s.Median != 42 || s.Q1 != 42 || s.Q3 != 42 || s.StdDev != 0 {
		t.Fatalf("unexpected summary for single value: %+v", s)
	}
}

func TestDescribe_Empty(t *testing.T) {
	if _, err := Describe(nil); !errors.Is(err, ErrEmptySample) {
		t.Fatalf("expected ErrEmptySample, got %v", err)
	}
}

func TestExtractNumbers(t *testing.T) {
	got := ExtractNumbers("std dev of 1.5, -2 and 10?")
	want := []float64{1.5, -2, 10}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestStatistics_StringRounds(t *testing.T) {
	s, _ := Describe([]float64{1, 2, 4})
	out := s.String()
	if !strings.Contains(out, "mean 2.3333") {
		t.Fatalf("expected mean rounded to 4 places, got %q", out)
	}
}

func TestLookupComplexity(t *testing.T) {
	c, err := LookupComplexity("quick_sort")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Worst != "O(n²)" || c.Average != "O(n log n)" {
		t.Fatalf("unexpected quicksort entry: %+v", c)
	}
	if _, err := LookupComplexity("bogo_sort"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestFindAlgorithms(t *testing.T) {
	found := FindAlgorithms("Compare quicksort with merge-sort please")
	if len(found) != 2 {
		t.Fatalf("expected 2 algorithms, got %d", len(found))
	}
	if found[0].Algorithm != "quicksort" || found[1].Algorithm != "merge sort" {
		t.Fatalf("unexpected algorithms: %v, %v", found[0].Algorithm, found[1].Algorithm)
	}
	if len(FindAlgorithms("good morning")) != 0 {
		t.Fatal("expected no algorithms")
	}
}

func TestComplexity_String(t *testing.T) {
	c, _ := LookupComplexity("merge_sort")
	out := c.String()
	if !strings.Contains(out, "worst O(n log n)") || !strings.HasSuffix(out, "; stable") {
		t.Fatalf("unexpected rendering: %q", out)
	}
	b, _ := LookupComplexity("binary_search")
	if strings.Contains(b.String(), "stable") {
		t.Fatalf("stability should be omitted for searches: %q", b.String())
	}
}
