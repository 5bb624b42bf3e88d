package automaton

import "slices"

// Minimize returns the minimal DFA for L(d) using Hopcroft's partition
// refinement. Missing transitions are treated as edges to an implicit sink,
// so states that cannot reach a final state fold into the sink and vanish.
// States are renumbered breadth-first from the start over sorted symbols.
// The result is nil when the language is empty.
func (d *DFA) Minimize() *DFA {
	n := len(d.trans)
	sink := n
	total := n + 1
	alphabet := d.Alphabet()

	next := func(s int, r rune) int {
		if s == sink {
			return sink
		}
		if t, ok := d.trans[s][r]; ok {
			return t
		}
		return sink
	}

	inverse := make([][][]int, len(alphabet))
	for ri, r := range alphabet {
		inverse[ri] = make([][]int, total)
		for s := 0; s < total; s++ {
			t := next(s, r)
			inverse[ri][t] = append(inverse[ri][t], s)
		}
	}

	var finals, others []int
	for s := 0; s < total; s++ {
		if s != sink && d.final[s] {
			finals = append(finals, s)
		} else {
			others = append(others, s)
		}
	}
	if len(finals) == 0 {
		return nil
	}

	blocks := [][]int{finals, others}
	blockOf := make([]int, total)
	for _, s := range others {
		blockOf[s] = 1
	}

	work := []int{0}
	inWork := []bool{true, false}
	if len(others) < len(finals) {
		work[0] = 1
		inWork[0], inWork[1] = false, true
	}

	for len(work) > 0 {
		a := work[len(work)-1]
		work = work[:len(work)-1]
		inWork[a] = false
		splitter := slices.Clone(blocks[a])

		for ri := range alphabet {
			hit := map[int][]int{}
			var touched []int
			for _, t := range splitter {
				for _, s := range inverse[ri][t] {
					b := blockOf[s]
					if _, ok := hit[b]; !ok {
						touched = append(touched, b)
					}
					hit[b] = append(hit[b], s)
				}
			}

			for _, b := range touched {
				in := hit[b]
				if len(in) == len(blocks[b]) {
					continue
				}
				member := make(map[int]bool, len(in))
				for _, s := range in {
					member[s] = true
				}
				var rest []int
				for _, s := range blocks[b] {
					if !member[s] {
						rest = append(rest, s)
					}
				}

				nb := len(blocks)
				blocks[b] = in
				blocks = append(blocks, rest)
				inWork = append(inWork, false)
				for _, s := range rest {
					blockOf[s] = nb
				}

				switch {
				case inWork[b]:
					work = append(work, nb)
					inWork[nb] = true
				case len(rest) < len(in):
					work = append(work, nb)
					inWork[nb] = true
				default:
					work = append(work, b)
					inWork[b] = true
				}
			}
		}
	}

	sinkBlock := blockOf[sink]
	startBlock := blockOf[0]
	if startBlock == sinkBlock {
		return nil
	}

	out := NewDFA()
	ids := map[int]int{startBlock: 0}
	queue := []int{startBlock}
	for i := 0; i < len(queue); i++ {
		rep := blocks[queue[i]][0]
		out.final[i] = d.final[rep]
		for _, r := range d.Symbols(rep) {
			tb := blockOf[d.trans[rep][r]]
			if tb == sinkBlock {
				continue
			}
			id, ok := ids[tb]
			if !ok {
				id = out.AddState()
				ids[tb] = id
				queue = append(queue, tb)
			}
			out.mustLink(i, r, id)
		}
	}
	return out
}
