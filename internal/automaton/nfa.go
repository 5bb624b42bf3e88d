// Package automaton implements the finite automata behind CloudMake
// predicates: a Thompson-style NFA builder, subset construction and a small
// DFA algebra (intersection, difference, minimization).
package automaton

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Epsilon labels silent NFA transitions. It is not a valid rune, so it never
// collides with a character of a path.
const Epsilon rune = -1

var (
	ErrUnknownState          = errors.New("unknown state")
	ErrConflictingTransition = errors.New("conflicting transition")
)

// NFA is an arena of states; state ids are indexes and state 0 is the start.
// Exactly one state is final at any time.
type NFA struct {
	trans    []map[rune][]int
	alphabet map[rune]struct{}
	final    int
}

func NewNFA() *NFA {
	return &NFA{
		trans:    []map[rune][]int{{}},
		alphabet: map[rune]struct{}{},
	}
}

func (n *NFA) NumStates() int { return len(n.trans) }

func (n *NFA) Final() int { return n.final }

func (n *NFA) SetFinal(s int) error {
	if !n.has(s) {
		return fmt.Errorf("nfa: final %d: %w", s, ErrUnknownState)
	}
	n.final = s
	return nil
}

func (n *NFA) AddState() int {
	n.trans = append(n.trans, map[rune][]int{})
	return len(n.trans) - 1
}

func (n *NFA) AddTransition(src int, r rune, dst int) error {
	if !n.has(src) {
		return fmt.Errorf("nfa: source %d: %w", src, ErrUnknownState)
	}
	if !n.has(dst) {
		return fmt.Errorf("nfa: destination %d: %w", dst, ErrUnknownState)
	}
	if r != Epsilon {
		n.alphabet[r] = struct{}{}
	}
	if !slices.Contains(n.trans[src][r], dst) {
		n.trans[src][r] = append(n.trans[src][r], dst)
	}
	return nil
}

func (n *NFA) has(s int) bool { return s >= 0 && s < len(n.trans) }

// link is AddTransition for states the caller just created.
func (n *NFA) link(src int, r rune, dst int) {
	if err := n.AddTransition(src, r, dst); err != nil {
		panic(err)
	}
}

// extend adds a fresh state reached from the final state on r and makes it
// the new final state.
func (n *NFA) extend(r rune) {
	s := n.AddState()
	n.link(n.final, r, s)
	n.final = s
}

// Alphabet returns the sorted set of real characters used by n.
func (n *NFA) Alphabet() []rune {
	out := make([]rune, 0, len(n.alphabet))
	for r := range n.alphabet {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Append splices other after n: other's start state becomes n's final state
// and n's final state moves to the image of other's final state. other is
// left untouched.
func (n *NFA) Append(other *NFA) {
	image := make([]int, len(other.trans))
	image[0] = n.final
	for s := 1; s < len(other.trans); s++ {
		image[s] = n.AddState()
	}
	for s, edges := range other.trans {
		for r, dsts := range edges {
			for _, d := range dsts {
				n.link(image[s], r, image[d])
			}
		}
	}
	n.final = image[other.final]
}

func (n *NFA) Clone() *NFA {
	c := &NFA{
		trans:    make([]map[rune][]int, len(n.trans)),
		alphabet: make(map[rune]struct{}, len(n.alphabet)),
		final:    n.final,
	}
	for s, edges := range n.trans {
		c.trans[s] = make(map[rune][]int, len(edges))
		for r, dsts := range edges {
			c.trans[s][r] = slices.Clone(dsts)
		}
	}
	for r := range n.alphabet {
		c.alphabet[r] = struct{}{}
	}
	return c
}

func (n *NFA) closure(states []int) []int {
	seen := make(map[int]struct{}, len(states))
	queue := make([]int, 0, len(states))
	for _, s := range states {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			queue = append(queue, s)
		}
	}
	for i := 0; i < len(queue); i++ {
		for _, d := range n.trans[queue[i]][Epsilon] {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				queue = append(queue, d)
			}
		}
	}
	slices.Sort(queue)
	return queue
}

func (n *NFA) step(states []int, r rune) []int {
	var next []int
	for _, s := range states {
		next = append(next, n.trans[s][r]...)
	}
	if len(next) == 0 {
		return nil
	}
	return n.closure(next)
}

// Accepts simulates n directly on s.
func (n *NFA) Accepts(s string) bool {
	cur := n.closure([]int{0})
	for _, r := range s {
		cur = n.step(cur, r)
		if len(cur) == 0 {
			return false
		}
	}
	return slices.Contains(cur, n.final)
}

// Determinize runs the subset construction. Subsets are numbered in
// breadth-first order over the sorted alphabet, so the result is stable.
func (n *NFA) Determinize() *DFA {
	alphabet := n.Alphabet()
	d := NewDFA()

	start := n.closure([]int{0})
	ids := map[string]int{subsetKey(start): 0}
	subsets := [][]int{start}

	for i := 0; i < len(subsets); i++ {
		cur := subsets[i]
		if slices.Contains(cur, n.final) {
			d.final[i] = true
		}
		for _, r := range alphabet {
			next := n.step(cur, r)
			if len(next) == 0 {
				continue
			}
			key := subsetKey(next)
			id, ok := ids[key]
			if !ok {
				id = d.AddState()
				ids[key] = id
				subsets = append(subsets, next)
			}
			d.mustLink(i, r, id)
		}
	}
	return d
}

func subsetKey(states []int) string {
	var b strings.Builder
	for i, s := range states {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", s)
	}
	return b.String()
}

func (n *NFA) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "nfa states=%d final=%d\n", len(n.trans), n.final)
	for s, edges := range n.trans {
		runes := make([]rune, 0, len(edges))
		for r := range edges {
			runes = append(runes, r)
		}
		slices.Sort(runes)
		for _, r := range runes {
			for _, d := range edges[r] {
				fmt.Fprintf(&b, "%d -%s-> %d\n", s, symbol(r), d)
			}
		}
	}
	return b.String()
}

func symbol(r rune) string {
	if r == Epsilon {
		return "ε"
	}
	return fmt.Sprintf("%q", r)
}
