package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/typemask"
)

// LoopWarning reports rules that may keep re-activating each other.
//
// Loops are warnings, not errors: a guard condition or a halt can end them
// at run time, which static analysis cannot see.
type LoopWarning struct {
	Path    []string `json:"path"`    // Loop path: ["rule-a", "rule-b", "rule-a"]
	Types   []string `json:"types"`   // Fact types written and read around the loop
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeLoops performs static loop analysis on a rule base.
//
// The algorithm:
//  1. Build a rule dependency graph: rule A → rule B when one of A's actions
//     writes (inserts, updates, modifies or deletes) a fact whose type B
//     reads in any condition, supertypes included
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1, and each self-loop on a rule without
//     no_loop, as a warning
//
// Rules with a Go consequence and no declarative actions write nothing the
// analysis can see. Output order follows rule declaration order.
func AnalyzeLoops(rb *ir.RuleBase) []LoopWarning {
	if rb == nil || len(rb.Rules) == 0 {
		return []LoopWarning{}
	}

	graph := buildDependencyGraph(rb)
	sccs := tarjanSCC(graph)

	warnings := []LoopWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 {
			warnings = append(warnings, loopSCCToWarning(scc, graph))
			continue
		}
		r := scc[0]
		if graph.hasSelfLoop(r) && !graph.noLoop[r] {
			warnings = append(warnings, loopSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps rule name → rules its actions could re-activate.
// order keeps declaration order so the analysis is deterministic.
type dependencyGraph struct {
	order  []string
	edges  map[string][]string
	via    map[[2]string][]string // edge → linking types
	noLoop map[string]bool
}

func (g *dependencyGraph) hasSelfLoop(node string) bool {
	return slices.Contains(g.edges[node], node)
}

// buildDependencyGraph constructs the rule dependency graph.
func buildDependencyGraph(rb *ir.RuleBase) *dependencyGraph {
	g := &dependencyGraph{
		edges:  make(map[string][]string),
		via:    make(map[[2]string][]string),
		noLoop: make(map[string]bool),
	}

	isA := func(sub, super string) bool { return sub == super }
	if h, err := (typemask.Encoder{}).Encode(rb.Types); err == nil {
		isA = func(sub, super string) bool { return sub == super || h.IsA(sub, super) }
	}

	reads := make(map[string][]string, len(rb.Rules))
	writes := make(map[string][]string, len(rb.Rules))
	for i := range rb.Rules {
		r := &rb.Rules[i]
		if _, dup := g.edges[r.Name]; dup {
			continue
		}
		g.order = append(g.order, r.Name)
		g.edges[r.Name] = []string{}
		g.noLoop[r.Name] = r.NoLoop
		reads[r.Name] = readTypes(r)
		writes[r.Name] = writeTypes(r)
	}

	for _, from := range g.order {
		for _, to := range g.order {
			var linked []string
			for _, w := range writes[from] {
				for _, rt := range reads[to] {
					if isA(w, rt) && !slices.Contains(linked, w) {
						linked = append(linked, w)
					}
				}
			}
			if len(linked) > 0 {
				g.edges[from] = append(g.edges[from], to)
				g.via[[2]string{from, to}] = linked
			}
		}
	}
	return g
}

func readTypes(r *ir.RuleSpec) []string {
	var out []string
	add := func(t string) {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	for _, c := range r.Conditions {
		switch {
		case c.Pattern != nil:
			add(c.Pattern.Type)
		case c.Accumulate != nil:
			add(c.Accumulate.Source.Type)
		}
	}
	return out
}

func writeTypes(r *ir.RuleSpec) []string {
	bindTypes := map[string]string{}
	for _, c := range r.Conditions {
		if c.Kind == ir.CondPattern && c.Pattern != nil && c.Pattern.Bind != "" {
			bindTypes[c.Pattern.Bind] = c.Pattern.Type
		}
	}
	var out []string
	add := func(t string) {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	for _, a := range r.Actions {
		switch a.Kind {
		case ir.ActInsert, ir.ActInsertLogical:
			add(a.Type)
		case ir.ActUpdate:
			if a.Type != "" {
				add(a.Type)
			}
			add(bindTypes[a.Target])
		case ir.ActModify, ir.ActDelete:
			add(bindTypes[a.Target])
		}
	}
	return out
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, each listed in declaration order, ordered by
// their earliest declared rule.
func tarjanSCC(g *dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	pos := make(map[string]int, len(g.order))
	for i, n := range g.order {
		pos[n] = i
	}
	byDecl := func(a, b string) int { return pos[a] - pos[b] }
	for _, scc := range sccs {
		slices.SortFunc(scc, byDecl)
	}
	slices.SortFunc(sccs, func(a, b []string) int { return byDecl(a[0], b[0]) })
	return sccs
}

// loopSCCToWarning converts an SCC to a LoopWarning.
//
// For self-loops, the path is [rule, rule].
// For multi-node loops, the path shows one traversal of the loop.
func loopSCCToWarning(scc []string, g *dependencyGraph) LoopWarning {
	var path []string
	if len(scc) == 1 {
		path = []string{scc[0], scc[0]}
	} else {
		path = reconstructLoopPath(scc, g)
	}

	var types []string
	for i := 1; i < len(path); i++ {
		for _, t := range g.via[[2]string{path[i-1], path[i]}] {
			if !slices.Contains(types, t) {
				types = append(types, t)
			}
		}
	}

	msg := fmt.Sprintf("Potential activation loop: %s (via %s)",
		strings.Join(path, " → "), strings.Join(types, ", "))
	if len(scc) == 1 {
		msg = fmt.Sprintf("Rule %s re-activates itself via %s; consider no_loop",
			scc[0], strings.Join(types, ", "))
	}
	return LoopWarning{Path: path, Types: types, Message: msg, Level: "warning"}
}

// reconstructLoopPath builds a loop path from an SCC: the shortest walk
// from the first declared member back to itself, found breadth first.
func reconstructLoopPath(scc []string, g *dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	parent := map[string]string{}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, neighbor := range g.edges[current] {
			if !sccSet[neighbor] {
				continue
			}
			if neighbor == start && current != start {
				path := []string{start}
				for n := current; n != start; n = parent[n] {
					path = append(path, n)
				}
				slices.Reverse(path[1:])
				return append(path, start)
			}
			if _, seen := parent[neighbor]; seen || neighbor == start {
				continue
			}
			parent[neighbor] = current
			queue = append(queue, neighbor)
		}
	}
	return []string{start}
}
