package automaton

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DFA is a deterministic, possibly partial automaton. State 0 is the start
// state and a missing transition means the input is rejected.
type DFA struct {
	trans []map[rune]int
	final []bool
}

func NewDFA() *DFA {
	return &DFA{
		trans: []map[rune]int{{}},
		final: []bool{false},
	}
}

func (d *DFA) NumStates() int { return len(d.trans) }

// Clone returns a deep copy of d.
func (d *DFA) Clone() *DFA {
	out := &DFA{
		trans: make([]map[rune]int, len(d.trans)),
		final: slices.Clone(d.final),
	}
	for s, edges := range d.trans {
		out.trans[s] = maps.Clone(edges)
	}
	return out
}

func (d *DFA) AddState() int {
	d.trans = append(d.trans, map[rune]int{})
	d.final = append(d.final, false)
	return len(d.trans) - 1
}

func (d *DFA) has(s int) bool { return s >= 0 && s < len(d.trans) }

func (d *DFA) SetFinal(s int) error {
	if !d.has(s) {
		return fmt.Errorf("dfa: final %d: %w", s, ErrUnknownState)
	}
	d.final[s] = true
	return nil
}

func (d *DFA) IsFinal(s int) bool { return d.has(s) && d.final[s] }

func (d *DFA) AddTransition(src int, r rune, dst int) error {
	if !d.has(src) {
		return fmt.Errorf("dfa: source %d: %w", src, ErrUnknownState)
	}
	if !d.has(dst) {
		return fmt.Errorf("dfa: destination %d: %w", dst, ErrUnknownState)
	}
	if cur, ok := d.trans[src][r]; ok && cur != dst {
		return fmt.Errorf("dfa: %d on %q goes to %d, not %d: %w", src, r, cur, dst, ErrConflictingTransition)
	}
	d.trans[src][r] = dst
	return nil
}

func (d *DFA) mustLink(src int, r rune, dst int) {
	if err := d.AddTransition(src, r, dst); err != nil {
		panic(err)
	}
}

// Next returns the successor of s on r.
func (d *DFA) Next(s int, r rune) (int, bool) {
	if !d.has(s) {
		return 0, false
	}
	t, ok := d.trans[s][r]
	return t, ok
}

// Symbols returns the sorted labels leaving s.
func (d *DFA) Symbols(s int) []rune {
	if !d.has(s) {
		return nil
	}
	out := make([]rune, 0, len(d.trans[s]))
	for r := range d.trans[s] {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Alphabet returns every label used by d, sorted.
func (d *DFA) Alphabet() []rune {
	seen := map[rune]struct{}{}
	for _, edges := range d.trans {
		for r := range edges {
			seen[r] = struct{}{}
		}
	}
	out := make([]rune, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Accepts reports whether d accepts s in full.
func (d *DFA) Accepts(s string) bool {
	return d.Parse(s) == Accept
}

// Example returns a shortest accepted string.
func (d *DFA) Example() (string, bool) {
	type visit struct {
		prev int
		r    rune
	}
	seen := map[int]visit{0: {prev: -1}}
	queue := []int{0}
	for i := 0; i < len(queue); i++ {
		s := queue[i]
		if d.final[s] {
			var path []rune
			for cur := s; cur != 0; cur = seen[cur].prev {
				path = append(path, seen[cur].r)
			}
			slices.Reverse(path)
			return string(path), true
		}
		for _, r := range d.Symbols(s) {
			t := d.trans[s][r]
			if _, ok := seen[t]; !ok {
				seen[t] = visit{prev: s, r: r}
				queue = append(queue, t)
			}
		}
	}
	return "", false
}

func (d *DFA) String() string {
	var b strings.Builder
	var finals []int
	for s, f := range d.final {
		if f {
			finals = append(finals, s)
		}
	}
	fmt.Fprintf(&b, "dfa states=%d finals=%v\n", len(d.trans), finals)
	for s := range d.trans {
		for _, r := range d.Symbols(s) {
			fmt.Fprintf(&b, "%d -%q-> %d\n", s, r, d.trans[s][r])
		}
	}
	return b.String()
}
