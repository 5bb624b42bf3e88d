package automaton

// dead stands in for the missing right-hand state during a difference walk.
const dead = -1

type pair struct{ a, b int }

// Intersect returns a DFA for L(a) ∩ L(b), or nil when it is empty.
func Intersect(a, b *DFA) *DFA {
	return product(a, b, false)
}

// Subtract returns a DFA for L(a) − L(b), or nil when it is empty.
func Subtract(a, b *DFA) *DFA {
	return product(a, b, true)
}

func product(a, b *DFA, difference bool) *DFA {
	out := NewDFA()
	ids := map[pair]int{{0, 0}: 0}
	queue := []pair{{0, 0}}

	for i := 0; i < len(queue); i++ {
		p := queue[i]
		if difference {
			out.final[i] = a.final[p.a] && (p.b == dead || !b.final[p.b])
		} else {
			out.final[i] = a.final[p.a] && b.final[p.b]
		}

		for _, r := range a.Symbols(p.a) {
			na := a.trans[p.a][r]
			nb, ok := dead, false
			if p.b != dead {
				nb, ok = b.trans[p.b][r]
			}
			if !ok {
				if !difference {
					continue
				}
				nb = dead
			}
			next := pair{na, nb}
			id, seen := ids[next]
			if !seen {
				id = out.AddState()
				ids[next] = id
				queue = append(queue, next)
			}
			out.mustLink(i, r, id)
		}
	}
	return out.Reduce()
}

// Reduce drops states that cannot reach a final state and minimizes the
// rest. It returns nil when the language is empty.
func (d *DFA) Reduce() *DFA {
	trimmed := d.RemoveRedundantStates()
	if trimmed == nil {
		return nil
	}
	return trimmed.Minimize()
}

// RemoveRedundantStates keeps only states that are reachable from the start
// and can reach a final state. It returns nil when the start state itself
// cannot reach a final state.
func (d *DFA) RemoveRedundantStates() *DFA {
	live := d.coReachable()
	if !live[0] {
		return nil
	}

	out := NewDFA()
	ids := map[int]int{0: 0}
	queue := []int{0}
	for i := 0; i < len(queue); i++ {
		s := queue[i]
		out.final[i] = d.final[s]
		for _, r := range d.Symbols(s) {
			t := d.trans[s][r]
			if !live[t] {
				continue
			}
			id, ok := ids[t]
			if !ok {
				id = out.AddState()
				ids[t] = id
				queue = append(queue, t)
			}
			out.mustLink(i, r, id)
		}
	}
	return out
}

func (d *DFA) coReachable() []bool {
	reverse := make([][]int, len(d.trans))
	for s, edges := range d.trans {
		for _, t := range edges {
			reverse[t] = append(reverse[t], s)
		}
	}

	live := make([]bool, len(d.trans))
	var queue []int
	for s, f := range d.final {
		if f {
			live[s] = true
			queue = append(queue, s)
		}
	}
	for i := 0; i < len(queue); i++ {
		for _, s := range reverse[queue[i]] {
			if !live[s] {
				live[s] = true
				queue = append(queue, s)
			}
		}
	}
	return live
}
