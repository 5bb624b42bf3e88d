// Package cloudmake compiles CloudMake rule trees into a set of pairwise
// disjoint predicates shared by policies, and provides the graph operations
// built on top of them: tiering, splitting into independent components,
// locality checks and entry discovery.
package cloudmake

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/awmpietro/cloudmake/internal/automaton"
)

type set map[int]struct{}

func (s set) add(v int) { s[v] = struct{}{} }

func (s set) has(v int) bool {
	_, ok := s[v]
	return ok
}

func (s set) sorted() []int { return slices.Sorted(maps.Keys(s)) }

// Policy is a compiled rule: an opaque action and the predicates it reads
// and writes.
type Policy struct {
	Action  string `json:"action"`
	Inputs  []int  `json:"inputs"`
	Outputs []int  `json:"outputs"`
}

type policy struct {
	action  string
	inputs  set
	outputs set
}

// Makefile is a compiled CloudMakefile. Predicates are pairwise disjoint
// DFAs; readers and writers are the reverse index from predicate to policy.
type Makefile struct {
	predicates []*automaton.DFA
	policies   []policy
	readers    []set
	writers    []set
	tiers      [][]int

	// indexes in the makefile this one was split from, if any
	policyOrigin    []int
	predicateOrigin []int
}

func newMakefile() *Makefile { return &Makefile{} }

func (m *Makefile) NumPredicates() int { return len(m.predicates) }

func (m *Makefile) NumPolicies() int { return len(m.policies) }

// Predicates returns copies of the predicate DFAs. A compiled makefile is
// shared by concurrent readers and is never mutated.
func (m *Makefile) Predicates() []*automaton.DFA {
	out := make([]*automaton.DFA, len(m.predicates))
	for i, d := range m.predicates {
		out[i] = d.Clone()
	}
	return out
}

func (m *Makefile) Predicate(i int) *automaton.DFA { return m.predicates[i].Clone() }

// Responses parses path with every predicate, in predicate order.
func (m *Makefile) Responses(path string) []automaton.Response {
	out := make([]automaton.Response, len(m.predicates))
	for i, d := range m.predicates {
		out[i] = d.Parse(path)
	}
	return out
}

func (m *Makefile) Policy(i int) Policy {
	p := m.policies[i]
	return Policy{Action: p.action, Inputs: p.inputs.sorted(), Outputs: p.outputs.sorted()}
}

func (m *Makefile) Policies() []Policy {
	out := make([]Policy, len(m.policies))
	for i := range m.policies {
		out[i] = m.Policy(i)
	}
	return out
}

// Readers returns the policies that consume predicate p.
func (m *Makefile) Readers(p int) []int { return m.readers[p].sorted() }

// Writers returns the policies that produce predicate p.
func (m *Makefile) Writers(p int) []int { return m.writers[p].sorted() }

// Tiers returns the execution order computed by the last DetectCycles.
func (m *Makefile) Tiers() [][]int {
	out := make([][]int, len(m.tiers))
	for i, t := range m.tiers {
		out[i] = slices.Clone(t)
	}
	return out
}

// PolicyOrigin maps policy i back to its index in the makefile this one was
// split from. For a makefile that was compiled directly it returns i.
func (m *Makefile) PolicyOrigin(i int) int {
	if m.policyOrigin == nil {
		return i
	}
	return m.policyOrigin[i]
}

// PredicateOrigin is PolicyOrigin for predicates.
func (m *Makefile) PredicateOrigin(i int) int {
	if m.predicateOrigin == nil {
		return i
	}
	return m.predicateOrigin[i]
}

func (m *Makefile) addPolicy(action string) int {
	m.policies = append(m.policies, policy{action: action, inputs: set{}, outputs: set{}})
	return len(m.policies) - 1
}

func (m *Makefile) addPredicate(d *automaton.DFA) int {
	m.predicates = append(m.predicates, d)
	m.readers = append(m.readers, set{})
	m.writers = append(m.writers, set{})
	return len(m.predicates) - 1
}

// link records that policy p reads (input) or writes predicate d.
func (m *Makefile) link(p, d int, input bool) {
	if input {
		m.policies[p].inputs.add(d)
		m.readers[d].add(p)
		return
	}
	m.policies[p].outputs.add(d)
	m.writers[d].add(p)
}

func (m *Makefile) String() string {
	var b strings.Builder
	for i, p := range m.policies {
		fmt.Fprintf(&b, "policy %d: %s\n", i, p.action)
		fmt.Fprintf(&b, "  inputs:  %v\n", p.inputs.sorted())
		fmt.Fprintf(&b, "  outputs: %v\n", p.outputs.sorted())
	}
	for i, d := range m.predicates {
		ex, _ := d.Example()
		fmt.Fprintf(&b, "predicate %d: states=%d example=%q\n", i, d.NumStates(), ex)
	}
	for i, t := range m.tiers {
		fmt.Fprintf(&b, "tier %d: %v\n", i, t)
	}
	return b.String()
}
