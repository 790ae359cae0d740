// Package rulegraph models the rule-alternatives relation as a directed
// graph over rule ids. The same adjacency structure backs cycle detection
// at admission time and topological ordering at evaluation time.
package rulegraph

import (
	"sort"
	"strings"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

// Graph is an adjacency list over rule ids. Edges point from a rule to
// the alternatives that can satisfy it.
type Graph struct {
	order   []string
	adj     map[string][]string
	present map[string]bool
}

// Build constructs the graph from a rule list, preserving input order.
// Edges to ids with no matching rule are kept in the adjacency list; they
// surface via Dangling and are skipped during traversal.
func Build(rules []model.RequirementRule) *Graph {
	g := &Graph{
		adj:     make(map[string][]string, len(rules)),
		present: make(map[string]bool, len(rules)),
	}
	for _, r := range rules {
		if g.present[r.ID] {
			continue
		}
		g.present[r.ID] = true
		g.order = append(g.order, r.ID)
		g.adj[r.ID] = append([]string(nil), r.Alternatives...)
	}
	return g
}

// RuleIDs returns the rule ids in input order.
func (g *Graph) RuleIDs() []string {
	return append([]string(nil), g.order...)
}

// Dangling returns, per rule id, the alternative ids that do not resolve
// to any rule in the set.
func (g *Graph) Dangling() map[string][]string {
	out := make(map[string][]string)
	for _, id := range g.order {
		for _, alt := range g.adj[id] {
			if !g.present[alt] {
				out[id] = append(out[id], alt)
			}
		}
	}
	return out
}

const (
	stateUnvisited = iota
	stateOnStack
	stateDone
)

// Cycles runs a depth-first traversal tracking an on-stack set and a
// fully-visited set. Every back edge closes a cycle; each cycle the
// traversal distinguishes is reported once, as its member ids rotated so
// the lexicographically smallest id leads. A rule listing itself is a
// 1-node cycle. Overlapping cycles that share a prefix may collapse into
// a single report, since an edge into a fully-visited node opens no new
// cycle; detection itself is unaffected, a cyclic graph always yields at
// least one cycle.
func (g *Graph) Cycles() [][]string {
	state := make(map[string]int, len(g.order))
	seen := make(map[string]bool)
	var stack []string
	var cycles [][]string

	var visit func(string)
	visit = func(u string) {
		state[u] = stateOnStack
		stack = append(stack, u)
		for _, v := range g.adj[u] {
			if !g.present[v] {
				continue
			}
			switch state[v] {
			case stateUnvisited:
				visit(v)
			case stateOnStack:
				// Back edge: the cycle is the stack segment from v to u.
				i := len(stack) - 1
				for i >= 0 && stack[i] != v {
					i--
				}
				cyc := canonical(stack[i:])
				key := strings.Join(cyc, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cyc)
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[u] = stateDone
	}

	for _, id := range g.order {
		if state[id] == stateUnvisited {
			visit(id)
		}
	}
	return cycles
}

// TopoOrder returns the rule ids leaves-first: every rule appears after
// the alternatives it depends on. Callers must have established
// acyclicity via Cycles; on a cyclic graph the order is still total but
// not meaningful.
func (g *Graph) TopoOrder() []string {
	state := make(map[string]int, len(g.order))
	out := make([]string, 0, len(g.order))

	var visit func(string)
	visit = func(u string) {
		state[u] = stateOnStack
		for _, v := range g.adj[u] {
			if g.present[v] && state[v] == stateUnvisited {
				visit(v)
			}
		}
		state[u] = stateDone
		out = append(out, u)
	}

	for _, id := range g.order {
		if state[id] == stateUnvisited {
			visit(id)
		}
	}
	return out
}

// canonical rotates a cycle so its smallest id comes first, which makes
// the same cycle discovered from different entry points compare equal.
func canonical(cycle []string) []string {
	out := append([]string(nil), cycle...)
	if len(out) < 2 {
		return out
	}
	low := 0
	for i := 1; i < len(out); i++ {
		if out[i] < out[low] {
			low = i
		}
	}
	rotated := append(append([]string(nil), out[low:]...), out[:low]...)
	return rotated
}

// SortCycles orders a cycle list by leading id, for stable reporting.
func SortCycles(cycles [][]string) {
	sort.Slice(cycles, func(i, j int) bool {
		return strings.Join(cycles[i], "\x00") < strings.Join(cycles[j], "\x00")
	})
}
