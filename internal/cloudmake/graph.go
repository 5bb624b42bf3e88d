package cloudmake

import "slices"

// DetectCycles recomputes the tiers and reports whether some policies could
// not be scheduled. A policy joins a tier once no remaining policy, itself
// included, produces one of its inputs, so a policy reading its own output
// is a cycle.
func (m *Makefile) DetectCycles() bool {
	m.tiers = nil
	remaining := set{}
	for p := range m.policies {
		remaining.add(p)
	}

	for len(remaining) > 0 {
		produced := set{}
		for p := range remaining {
			for d := range m.policies[p].outputs {
				produced.add(d)
			}
		}

		var tier []int
		for p := range remaining {
			ready := true
			for d := range m.policies[p].inputs {
				if produced.has(d) {
					ready = false
					break
				}
			}
			if ready {
				tier = append(tier, p)
			}
		}
		if len(tier) == 0 {
			return true
		}
		slices.Sort(tier)
		for _, p := range tier {
			delete(remaining, p)
		}
		m.tiers = append(m.tiers, tier)
	}
	return false
}

// Split partitions m into connected components of the bipartite graph of
// policies and predicates. Components are returned in order of their lowest
// policy.
func Split(m *Makefile) []*Makefile {
	seenPolicy := make([]bool, len(m.policies))
	seenPred := make([]bool, len(m.predicates))
	var out []*Makefile

	for root := range m.policies {
		if seenPolicy[root] {
			continue
		}
		seenPolicy[root] = true
		policies := []int{root}
		frontier := []int{root}

		for len(frontier) > 0 {
			var preds []int
			for _, p := range frontier {
				for _, d := range m.policies[p].inputs.sorted() {
					if !seenPred[d] {
						seenPred[d] = true
						preds = append(preds, d)
					}
				}
				for _, d := range m.policies[p].outputs.sorted() {
					if !seenPred[d] {
						seenPred[d] = true
						preds = append(preds, d)
					}
				}
			}

			frontier = nil
			for _, d := range preds {
				for _, p := range append(m.readers[d].sorted(), m.writers[d].sorted()...) {
					if !seenPolicy[p] {
						seenPolicy[p] = true
						frontier = append(frontier, p)
						policies = append(policies, p)
					}
				}
			}
		}

		slices.Sort(policies)
		out = append(out, m.sub(policies))
	}
	return out
}

// sub builds the makefile restricted to the given policies (sorted).
// Predicates are renumbered in order of first reference.
func (m *Makefile) sub(policies []int) *Makefile {
	s := newMakefile()
	predID := map[int]int{}
	policyID := make(map[int]int, len(policies))

	for _, op := range policies {
		np := s.addPolicy(m.policies[op].action)
		policyID[op] = np
		s.policyOrigin = append(s.policyOrigin, op)

		for _, input := range []bool{true, false} {
			refs := m.policies[op].outputs
			if input {
				refs = m.policies[op].inputs
			}
			for _, od := range refs.sorted() {
				nd, ok := predID[od]
				if !ok {
					nd = s.addPredicate(m.predicates[od])
					predID[od] = nd
					s.predicateOrigin = append(s.predicateOrigin, od)
				}
				s.link(np, nd, input)
			}
		}
	}

	for _, tier := range m.tiers {
		var t []int
		for _, op := range tier {
			if np, ok := policyID[op]; ok {
				t = append(t, np)
			}
		}
		if len(t) > 0 {
			s.tiers = append(s.tiers, t)
		}
	}
	return s
}

// Node returns the node name of predicate 0.
func (m *Makefile) Node() (string, bool) {
	if len(m.predicates) == 0 {
		return "", false
	}
	return m.predicates[0].Node()
}

// IsLocalTo reports whether every predicate is confined to node, i.e.
// accepts "node/" as its only possible prefix.
func (m *Makefile) IsLocalTo(node string) bool {
	if node == "" {
		return false
	}
	for _, d := range m.predicates {
		if !d.ParseLocal(node + "/") {
			return false
		}
	}
	return true
}

// IsLocal reports whether m is confined to the node named by predicate 0.
func (m *Makefile) IsLocal() bool {
	node, ok := m.Node()
	return ok && m.IsLocalTo(node)
}

// merge concatenates independent makefiles. Tier k of the result is the
// union of tier k of each part.
func merge(parts ...*Makefile) *Makefile {
	out := newMakefile()
	for _, part := range parts {
		predBase := len(out.predicates)
		policyBase := len(out.policies)

		for i, d := range part.predicates {
			out.addPredicate(d)
			out.predicateOrigin = append(out.predicateOrigin, part.PredicateOrigin(i))
		}
		for i, p := range part.policies {
			np := out.addPolicy(p.action)
			out.policyOrigin = append(out.policyOrigin, part.PolicyOrigin(i))
			for d := range p.inputs {
				out.link(np, predBase+d, true)
			}
			for d := range p.outputs {
				out.link(np, predBase+d, false)
			}
		}
		for k, tier := range part.tiers {
			if k == len(out.tiers) {
				out.tiers = append(out.tiers, nil)
			}
			for _, p := range tier {
				out.tiers[k] = append(out.tiers[k], policyBase+p)
			}
		}
	}
	for _, t := range out.tiers {
		slices.Sort(t)
	}
	return out
}
