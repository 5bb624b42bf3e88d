package cloudmake

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/awmpietro/cloudmake/internal/automaton"
	"github.com/awmpietro/cloudmake/internal/pattern"
)

var (
	ErrDuplicateVariable = errors.New("duplicate variable")
	ErrVariableValue     = errors.New("variable value must build a single fragment")
	ErrEmptyPattern      = errors.New("entry pattern matches nothing")
	ErrUndefinedVariable = automaton.ErrUndefinedVariable
)

// ParseError locates a compilation failure on a source line (1-based).
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

type Compiler struct{}

func NewCompiler() *Compiler { return &Compiler{} }

// Compile reads one rule tree per line. Blank lines and lines starting with
// '#' are ignored.
func (c *Compiler) Compile(source string) (*Makefile, error) {
	m := newMakefile()
	for i, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n, err := pattern.Parse(line)
		if err != nil {
			return nil, &ParseError{Line: i + 1, Err: err}
		}
		if err := c.rule(m, n, nil); err != nil {
			return nil, &ParseError{Line: i + 1, Err: err}
		}
	}
	return m, nil
}

// binding is a variable together with every value it takes.
type binding struct {
	name   string
	values []*automaton.NFA
}

type template struct {
	action  string
	inputs  [][]automaton.Segment
	outputs [][]automaton.Segment
}

func (c *Compiler) rule(m *Makefile, n *pattern.Node, bindings []binding) error {
	switch n.Kind {
	case pattern.SRule:
		name, err := variableName(n.Children[0], bindings)
		if err != nil {
			return err
		}
		wrapper := n.Children[1]
		var values []*automaton.NFA
		for _, v := range wrapper.Children {
			if v.Kind != pattern.Sequence {
				return fmt.Errorf("%w: SRULE values must be SEQUENCE, got %s", pattern.ErrMalformed, v.Kind)
			}
			nfa, err := value(v)
			if err != nil {
				return fmt.Errorf("variable %s: %w", name, err)
			}
			values = append(values, nfa)
		}
		return c.rule(m, n.Children[2], append(bindings, binding{name: name, values: values}))

	case pattern.NRule:
		name, err := variableName(n.Children[0], bindings)
		if err != nil {
			return err
		}
		bounds := n.Children[1].Children
		if len(bounds) != 2 || bounds[0].Kind != pattern.Sequence || bounds[1].Kind != pattern.Sequence {
			return fmt.Errorf("%w: NRULE range needs two SEQUENCE bounds", pattern.ErrMalformed)
		}
		start, err := pattern.Int(bounds[0])
		if err != nil {
			return err
		}
		end, err := pattern.Int(bounds[1])
		if err != nil {
			return err
		}
		var values []*automaton.NFA
		for i := start; i <= end; i++ {
			nfa, err := value(pattern.Literal(strconv.Itoa(i)))
			if err != nil {
				return fmt.Errorf("variable %s: %w", name, err)
			}
			values = append(values, nfa)
		}
		return c.rule(m, n.Children[2], append(bindings, binding{name: name, values: values}))

	case pattern.Rule:
		t, err := parseTemplate(n)
		if err != nil {
			return err
		}
		return c.instantiate(m, t, bindings, map[string]*automaton.NFA{})
	}
	return fmt.Errorf("%w: a rule must be RULE, SRULE or NRULE, got %s", pattern.ErrMalformed, n.Kind)
}

func variableName(n *pattern.Node, bindings []binding) (string, error) {
	name, err := pattern.Text(n)
	if err != nil {
		return "", err
	}
	for _, b := range bindings {
		if b.name == name {
			return "", fmt.Errorf("%w: %s", ErrDuplicateVariable, name)
		}
	}
	return name, nil
}

func value(n *pattern.Node) (*automaton.NFA, error) {
	segs, err := automaton.Build(n)
	if err != nil {
		return nil, err
	}
	if len(segs) != 1 || segs[0].IsVar() {
		return nil, ErrVariableValue
	}
	return segs[0].NFA, nil
}

func parseTemplate(n *pattern.Node) (*template, error) {
	outs, ins, act := n.Children[0], n.Children[1], n.Children[2]
	if outs.Kind != pattern.Outputs || ins.Kind != pattern.Inputs || act.Kind != pattern.Action {
		return nil, fmt.Errorf("%w: RULE needs OUTPUTS, INPUTS and ACTION", pattern.ErrMalformed)
	}

	action, err := pattern.Text(act)
	if err != nil {
		return nil, err
	}
	t := &template{action: action}
	if t.outputs, err = entries(outs); err != nil {
		return nil, err
	}
	if t.inputs, err = entries(ins); err != nil {
		return nil, err
	}
	return t, nil
}

func entries(n *pattern.Node) ([][]automaton.Segment, error) {
	var out [][]automaton.Segment
	for _, e := range n.Children {
		if !e.Is(pattern.Entry, pattern.Event) {
			return nil, fmt.Errorf("%w: %s may only hold ENTRY or EVENT, got %s", pattern.ErrMalformed, n.Kind, e.Kind)
		}
		segs, err := automaton.Build(e)
		if err != nil {
			return nil, err
		}
		out = append(out, segs)
	}
	return out, nil
}

// instantiate expands the cross product of the bindings, first binding
// outermost, and adds one policy per combination.
func (c *Compiler) instantiate(m *Makefile, t *template, bindings []binding, vars map[string]*automaton.NFA) error {
	if len(bindings) == 0 {
		return m.addRule(t, vars)
	}
	b := bindings[0]
	for _, v := range b.values {
		next := maps.Clone(vars)
		next[b.name] = v
		if err := c.instantiate(m, t, bindings[1:], next); err != nil {
			return err
		}
	}
	return nil
}

func (m *Makefile) addRule(t *template, vars map[string]*automaton.NFA) error {
	p := m.addPolicy(t.action)
	for _, segs := range t.inputs {
		if err := m.addEntry(p, segs, vars, true); err != nil {
			return err
		}
	}
	for _, segs := range t.outputs {
		if err := m.addEntry(p, segs, vars, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *Makefile) addEntry(p int, segs []automaton.Segment, vars map[string]*automaton.NFA, input bool) error {
	nfa, err := automaton.Compose(segs, vars)
	if err != nil {
		return err
	}
	d := nfa.Determinize().Reduce()
	if d == nil {
		return ErrEmptyPattern
	}
	m.insert(d, p, input)
	return nil
}

// insert adds d to policy p while keeping the predicates pairwise disjoint.
// Every existing predicate overlapping d is narrowed to the overlap and its
// remainder becomes a new predicate with the same readers and writers.
func (m *Makefile) insert(d *automaton.DFA, p int, input bool) {
	refs := m.writers
	if input {
		refs = m.readers
	}

	count := len(m.predicates)
	for i := 0; i < count && d != nil; i++ {
		cur := m.predicates[i]
		overlap := automaton.Intersect(d, cur)
		if overlap == nil {
			continue
		}
		had := refs[i].has(p)

		m.predicates[i] = overlap
		m.link(p, i, input)

		if rest := automaton.Subtract(cur, overlap); rest != nil {
			j := m.addPredicate(rest)
			for r := range m.readers[i] {
				m.link(r, j, true)
			}
			for w := range m.writers[i] {
				m.link(w, j, false)
			}
			if !had {
				m.unlink(p, j, input)
			}
		}

		d = automaton.Subtract(d, overlap)
	}

	if d != nil {
		m.link(p, m.addPredicate(d), input)
	}
}

func (m *Makefile) unlink(p, d int, input bool) {
	if input {
		delete(m.policies[p].inputs, d)
		delete(m.readers[d], p)
		return
	}
	delete(m.policies[p].outputs, d)
	delete(m.writers[d], p)
}
