package cloudmake

import (
	"errors"
	"fmt"

	"github.com/awmpietro/cloudmake/internal/automaton"
)

// Tree is the resource hierarchy entries are discovered in. "" is the root.
type Tree interface {
	Children(path string) ([]string, error)
}

// Match is an entry accepted by a predicate.
type Match struct {
	Path      string `json:"path"`
	Predicate int    `json:"predicate"`
}

func (m *Makefile) all() []int {
	out := make([]int, len(m.predicates))
	for i := range out {
		out[i] = i
	}
	return out
}

// FindMatchingEntries walks tree breadth-first from start and returns every
// path accepted by one of the predicates in subset (all of them when subset
// is nil). A predicate that accepts a path is not carried into its children.
// Listing errors prune that subtree and are returned joined with the matches
// found elsewhere.
func (m *Makefile) FindMatchingEntries(tree Tree, start string, subset []int) ([]Match, error) {
	if subset == nil {
		subset = m.all()
	}

	type visit struct {
		path string
		live []int
	}
	var (
		out  []Match
		errs []error
	)
	queue := []visit{{path: start, live: subset}}
	for i := 0; i < len(queue); i++ {
		v := queue[i]
		var live []int
		for _, p := range v.live {
			switch m.predicates[p].Parse(v.path) {
			case automaton.Accept:
				out = append(out, Match{Path: v.path, Predicate: p})
			case automaton.NotReject:
				live = append(live, p)
			}
		}
		if len(live) == 0 {
			continue
		}

		children, err := tree.Children(v.path)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %q: %w", v.path, err))
			continue
		}
		for _, c := range children {
			queue = append(queue, visit{path: c, live: live})
		}
	}
	return out, errors.Join(errs...)
}

// Compatible returns the predicates of subset (all when nil) for which path
// is accepted or may still be extended into an accepted entry.
func (m *Makefile) Compatible(path string, subset []int) []int {
	if subset == nil {
		subset = m.all()
	}
	var out []int
	for _, p := range subset {
		if m.predicates[p].Parse(path) != automaton.Reject {
			out = append(out, p)
		}
	}
	return out
}
