// Package mathtools holds small local computations the prompt builder can
// attach as reference facts: an algorithm complexity table and descriptive
// statistics.
package mathtools

import (
	"fmt"
	"regexp"
	"strings"
)

// Complexity describes the asymptotic cost of a well-known algorithm.
type Complexity struct {
	Algorithm   string
	Best        string
	Average     string
	Worst       string
	Space       string
	Stable      *bool // nil when stability doesn't apply
	Description string
}

func stable(b bool) *bool { return &b }

var complexityTable = map[string]Complexity{
	"bubble_sort": {
		Algorithm: "bubble sort", Best: "O(n)", Average: "O(n²)", Worst: "O(n²)", Space: "O(1)", Stable: stable(true),
		Description: "Repeatedly steps through the list, compares adjacent elements and swaps them if they are out of order.",
	},
	"insertion_sort": {
		Algorithm: "insertion sort", Best: "O(n)", Average: "O(n²)", Worst: "O(n²)", Space: "O(1)", Stable: stable(true),
		Description: "Builds the sorted prefix one element at a time by inserting each element into its position.",
	},
	"quick_sort": {
		Algorithm: "quicksort", Best: "O(n log n)", Average: "O(n log n)", Worst: "O(n²)", Space: "O(log n)", Stable: stable(false),
		Description: "Divide and conquer: selects a pivot and partitions the array around it, then sorts the partitions recursively.",
	},
	"merge_sort": {
		Algorithm: "merge sort", Best: "O(n log n)", Average: "O(n log n)", Worst: "O(n log n)", Space: "O(n)", Stable: stable(true),
		Description: "Divide and conquer: splits the input in halves, sorts them recursively and merges the sorted halves.",
	},
	"heap_sort": {
		Algorithm: "heapsort", Best: "O(n log n)", Average: "O(n log n)", Worst: "O(n log n)", Space: "O(1)", Stable: stable(false),
		Description: "Builds a max-heap and repeatedly moves the maximum to the end of the array.",
	},
	"binary_search": {
		Algorithm: "binary search", Best: "O(1)", Average: "O(log n)", Worst: "O(log n)", Space: "O(1)",
		Description: "Finds a target in a sorted array by repeatedly halving the search interval.",
	},
	"depth_first_search": {
		Algorithm: "depth-first search", Best: "O(V + E)", Average: "O(V + E)", Worst: "O(V + E)", Space: "O(V)",
		Description: "Traverses a graph by exploring as far as possible along each branch before backtracking.",
	},
	"breadth_first_search": {
		Algorithm: "breadth-first search", Best: "O(V + E)", Average: "O(V + E)", Worst: "O(V + E)", Space: "O(V)",
		Description: "Traverses a graph level by level, visiting all neighbours at the current depth first.",
	},
	"dijkstra": {
		Algorithm: "Dijkstra's algorithm", Best: "O((V + E) log V)", Average: "O((V + E) log V)", Worst: "O((V + E) log V)", Space: "O(V)",
		Description: "Finds shortest paths from a source in a graph with non-negative edge weights (binary heap priority queue).",
	},
}

// aliases maps the spellings people type to table keys.
var complexityAliases = []struct {
	pattern *regexp.Regexp
	key     string
}{
	{regexp.MustCompile(`(?i)\bbubble[\s_-]?sort\b`), "bubble_sort"},
	{regexp.MustCompile(`(?i)\binsertion[\s_-]?sort\b`), "insertion_sort"},
	{regexp.MustCompile(`(?i)\bquick[\s_-]?sort\b`), "quick_sort"},
	{regexp.MustCompile(`(?i)\bmerge[\s_-]?sort\b`), "merge_sort"},
	{regexp.MustCompile(`(?i)\bheap[\s_-]?sort\b`), "heap_sort"},
	{regexp.MustCompile(`(?i)\bbinary[\s_-]search\b`), "binary_search"},
	{regexp.MustCompile(`(?i)\b(?:dfs|depth[\s_-]first(?:[\s_-]search)?)\b`), "depth_first_search"},
	{regexp.MustCompile(`(?i)\b(?:bfs|breadth[\s_-]first(?:[\s_-]search)?)\b`), "breadth_first_search"},
	{regexp.MustCompile(`(?i)\bdijkstra`), "dijkstra"},
}

// LookupComplexity returns the table entry for an algorithm key such as
// "quick_sort" or "binary_search".
func LookupComplexity(key string) (Complexity, error) {
	c, ok := complexityTable[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Complexity{}, fmt.Errorf("algorithm %q not found", key)
	}
	return c, nil
}

// FindAlgorithms returns the table entries for every algorithm named in text,
// in the order they're listed in the alias table.
func FindAlgorithms(text string) []Complexity {
	var found []Complexity
	for _, a := range complexityAliases {
		if a.pattern.MatchString(text) {
			found = append(found, complexityTable[a.key])
		}
	}
	return found
}

func (c Complexity) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: time best %s, average %s, worst %s; space %s", c.Algorithm, c.Best, c.Average, c.Worst, c.Space)
	if c.Stable != nil {
		if *c.Stable {
			b.WriteString("; stable")
		} else {
			b.WriteString("; not stable")
		}
	}
	return b.String()
}
