package cloudmake

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

const graphName = "cloudmake"

// DOT renders the policy/predicate graph of m. Policies are boxes labelled
// with their action, predicates are ellipses labelled with their shortest
// accepted entry. Edges run from an input predicate into the policy and from
// the policy into its outputs.
func DOT(m *Makefile) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(graphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}

	for i, d := range m.predicates {
		ex, _ := d.Example()
		attrs := map[string]string{
			"shape": "ellipse",
			"label": strconv.Quote(ex),
		}
		if err := g.AddNode(graphName, predicateID(i), attrs); err != nil {
			return "", fmt.Errorf("add predicate %d: %w", i, err)
		}
	}

	for i, p := range m.policies {
		attrs := map[string]string{
			"shape": "box",
			"label": strconv.Quote(p.action),
		}
		if err := g.AddNode(graphName, policyID(i), attrs); err != nil {
			return "", fmt.Errorf("add policy %d: %w", i, err)
		}
		for _, d := range p.inputs.sorted() {
			if err := g.AddEdge(predicateID(d), policyID(i), true, nil); err != nil {
				return "", err
			}
		}
		for _, d := range p.outputs.sorted() {
			if err := g.AddEdge(policyID(i), predicateID(d), true, nil); err != nil {
				return "", err
			}
		}
	}
	return g.String(), nil
}

func policyID(i int) string { return "p" + strconv.Itoa(i) }

func predicateID(i int) string { return "e" + strconv.Itoa(i) }
