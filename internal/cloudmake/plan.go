package cloudmake

import (
	"errors"
	"fmt"
	"slices"
)

var ErrCycle = errors.New("dependency cycle")

// Component is one independent piece of a makefile.
type Component struct {
	Makefile *Makefile
	Node     string
	Local    bool
	Cyclic   bool
}

// Plan decides where every component of a makefile runs: local components
// are merged per node, the rest need a leader. Cyclic components are
// rejected and take no part in either.
type Plan struct {
	components []Component
	local      map[string]*Makefile
	leaders    []int
	rejected   []int
}

// NewPlan splits m and schedules every component. A cyclic component only
// rejects itself; the returned error joins one ErrCycle per rejected
// component and the plan is usable regardless.
func NewPlan(m *Makefile) (*Plan, error) {
	p := &Plan{local: map[string]*Makefile{}}
	byNode := map[string][]*Makefile{}
	var errs []error

	for i, part := range Split(m) {
		c := Component{Makefile: part}
		c.Cyclic = part.DetectCycles()
		c.Node, _ = part.Node()
		c.Local = part.IsLocal()
		p.components = append(p.components, c)

		switch {
		case c.Cyclic:
			p.rejected = append(p.rejected, i)
			origins := make([]int, part.NumPolicies())
			for j := range origins {
				origins[j] = part.PolicyOrigin(j)
			}
			errs = append(errs, fmt.Errorf("component %d (policies %v): %w", i, origins, ErrCycle))
		case c.Local:
			byNode[c.Node] = append(byNode[c.Node], part)
		default:
			p.leaders = append(p.leaders, i)
		}
	}

	for node, parts := range byNode {
		p.local[node] = merge(parts...)
	}
	return p, errors.Join(errs...)
}

func (p *Plan) Components() []Component { return slices.Clone(p.components) }

// Nodes returns the nodes that own a local makefile, sorted.
func (p *Plan) Nodes() []string {
	out := make([]string, 0, len(p.local))
	for n := range p.local {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Local returns the merged local makefile of node.
func (p *Plan) Local(node string) (*Makefile, bool) {
	m, ok := p.local[node]
	return m, ok
}

// Leaders returns the acyclic components that span more than one node.
func (p *Plan) Leaders() []*Makefile { return p.pick(p.leaders) }

func (p *Plan) Rejected() []*Makefile { return p.pick(p.rejected) }

func (p *Plan) pick(idx []int) []*Makefile {
	out := make([]*Makefile, len(idx))
	for i, c := range idx {
		out[i] = p.components[c].Makefile
	}
	return out
}
