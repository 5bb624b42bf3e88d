package automaton

import (
	"errors"
	"fmt"

	"github.com/awmpietro/cloudmake/internal/pattern"
)

var ErrUndefinedVariable = errors.New("undefined variable")

// Segment is one piece of a built entry: either a finished NFA fragment or
// a reference to a variable that is substituted later by Compose.
type Segment struct {
	Var string
	NFA *NFA
}

func (s Segment) IsVar() bool { return s.NFA == nil }

// tagChars is the character class of an XML element name.
var tagChars = func() []rune {
	var out []rune
	for r := 'A'; r <= 'Z'; r++ {
		out = append(out, r)
	}
	for r := 'a'; r <= 'z'; r++ {
		out = append(out, r)
	}
	for r := '0'; r <= '9'; r++ {
		out = append(out, r)
	}
	return append(out, '@', '_')
}()

// Build walks an entry (or a variable value) and returns its segments. The
// list always starts with an NFA fragment.
func Build(n *pattern.Node) ([]Segment, error) {
	b := &builder{segs: []Segment{{NFA: NewNFA()}}}
	if err := b.node(n); err != nil {
		return nil, err
	}
	return b.segs, nil
}

// Compose concatenates segments, substituting each variable with its bound
// automaton.
func Compose(segs []Segment, vars map[string]*NFA) (*NFA, error) {
	out := NewNFA()
	for _, seg := range segs {
		if !seg.IsVar() {
			out.Append(seg.NFA)
			continue
		}
		v, ok := vars[seg.Var]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUndefinedVariable, seg.Var)
		}
		out.Append(v)
	}
	return out, nil
}

type builder struct {
	segs []Segment
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{pattern.ErrMalformed}, args...)...)
}

// cur returns the fragment being built, opening a new one after a variable.
func (b *builder) cur() *NFA {
	last := b.segs[len(b.segs)-1]
	if last.IsVar() {
		nfa := NewNFA()
		b.segs = append(b.segs, Segment{NFA: nfa})
		return nfa
	}
	return last.NFA
}

func (b *builder) literal(s string) {
	nfa := b.cur()
	for _, r := range s {
		nfa.extend(r)
	}
}

func (b *builder) charset(set []rune) {
	nfa := b.cur()
	s := nfa.AddState()
	for _, r := range set {
		nfa.link(nfa.final, r, s)
	}
	nfa.final = s
}

func expect(parent *pattern.Node, kinds ...pattern.Kind) error {
	if len(parent.Children) != len(kinds) {
		return malformed("%s needs %d children, got %d", parent.Kind, len(kinds), len(parent.Children))
	}
	for i, k := range kinds {
		if parent.Children[i].Kind != k {
			return malformed("child %d of %s must be %s, got %s", i, parent.Kind, k, parent.Children[i].Kind)
		}
	}
	return nil
}

func (b *builder) children(n *pattern.Node, allowed ...pattern.Kind) error {
	for _, c := range n.Children {
		if !c.Is(allowed...) {
			return malformed("%s cannot contain %s", n.Kind, c.Kind)
		}
		if err := b.node(c); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) node(n *pattern.Node) error {
	switch n.Kind {
	case pattern.Entry:
		if err := expect(n, pattern.DirPath, pattern.Name, pattern.XMLPath); err != nil {
			return err
		}
		if err := b.node(n.Children[0]); err != nil {
			return err
		}
		if err := b.node(n.Children[1]); err != nil {
			return err
		}
		b.literal(".xml")
		return b.node(n.Children[2])

	case pattern.Event:
		if err := expect(n, pattern.DirPath, pattern.Name); err != nil {
			return err
		}
		if err := b.node(n.Children[0]); err != nil {
			return err
		}
		return b.node(n.Children[1])

	case pattern.DirPath:
		for _, c := range n.Children {
			if c.Kind != pattern.Name {
				return malformed("DIRPATH cannot contain %s", c.Kind)
			}
			if err := b.node(c); err != nil {
				return err
			}
			b.literal("/")
		}
		return nil

	case pattern.XMLPath:
		for _, c := range n.Children {
			if c.Kind != pattern.Name {
				return malformed("XMLPATH cannot contain %s", c.Kind)
			}
			b.literal("{")
			if err := b.node(c); err != nil {
				return err
			}
			b.literal("}")
		}
		return b.nestedTags()

	case pattern.Name:
		return b.children(n, pattern.Sequence, pattern.Var)

	case pattern.Sequence:
		return b.children(n,
			pattern.Asterisk, pattern.Plus, pattern.QuestionMark, pattern.Char,
			pattern.Choice, pattern.NoChoice, pattern.Union, pattern.Atom)

	case pattern.Atom:
		if err := expect(n, pattern.Sequence); err != nil {
			return err
		}
		return b.node(n.Children[0])

	case pattern.Asterisk, pattern.Plus, pattern.QuestionMark:
		c := n.Children[0]
		if !c.Is(pattern.Char, pattern.Choice, pattern.NoChoice, pattern.Union, pattern.Atom) {
			return malformed("%s cannot wrap %s", n.Kind, c.Kind)
		}
		return b.quantify(n.Kind, func() error { return b.node(c) })

	case pattern.Choice, pattern.NoChoice:
		set, err := choiceSet(n)
		if err != nil {
			return err
		}
		b.charset(set)
		return nil

	case pattern.Union:
		if err := expect(n, pattern.Sequence, pattern.Sequence); err != nil {
			return err
		}
		return b.union(n.Children[0], n.Children[1])

	case pattern.Var:
		name, err := pattern.Text(n)
		if err != nil {
			return err
		}
		if name == "" {
			return malformed("empty variable name")
		}
		b.segs = append(b.segs, Segment{Var: name})
		return nil

	case pattern.Char:
		b.cur().extend(n.Char)
		return nil
	}
	return malformed("unexpected %s", n.Kind)
}

// quantify wraps the fragment produced by body between a fresh entry state
// and a fresh exit state, so loops never leak into neighbouring fragments.
func (b *builder) quantify(kind pattern.Kind, body func() error) error {
	nfa := b.cur()
	s := nfa.AddState()
	nfa.link(nfa.final, Epsilon, s)
	nfa.final = s

	if err := body(); err != nil {
		return err
	}
	if b.cur() != nfa {
		return malformed("variables are not allowed inside %s", kind)
	}

	e := nfa.final
	f := nfa.AddState()
	switch kind {
	case pattern.Asterisk:
		nfa.link(e, Epsilon, s)
		nfa.link(s, Epsilon, f)
	case pattern.Plus:
		nfa.link(e, Epsilon, s)
		nfa.link(e, Epsilon, f)
	case pattern.QuestionMark:
		nfa.link(s, Epsilon, f)
		nfa.link(e, Epsilon, f)
	}
	nfa.final = f
	return nil
}

func (b *builder) union(left, right *pattern.Node) error {
	nfa := b.cur()
	start := nfa.final

	if err := b.node(left); err != nil {
		return err
	}
	leftEnd := nfa.final

	nfa.final = start
	if err := b.node(right); err != nil {
		return err
	}
	if b.cur() != nfa {
		return malformed("variables are not allowed inside UNION")
	}
	rightEnd := nfa.final

	join := nfa.AddState()
	nfa.link(leftEnd, Epsilon, join)
	nfa.link(rightEnd, Epsilon, join)
	nfa.final = join
	return nil
}

// nestedTags appends ({tag})*, which lets an entry pattern cover every XML
// element nested below the last named one.
func (b *builder) nestedTags() error {
	body := func() error {
		b.literal("{")
		if err := b.quantify(pattern.Asterisk, func() error {
			b.charset(tagChars)
			return nil
		}); err != nil {
			return err
		}
		b.literal("}")
		return nil
	}
	return b.quantify(pattern.Asterisk, body)
}

func choiceSet(n *pattern.Node) ([]rune, error) {
	picked := map[rune]bool{}
	for _, c := range n.Children {
		switch c.Kind {
		case pattern.Char:
			picked[c.Char] = true
		case pattern.Range:
			if !c.Children[0].Is(pattern.Char) || !c.Children[1].Is(pattern.Char) {
				return nil, malformed("RANGE bounds must be CHAR")
			}
			lo, hi := c.Children[0].Char, c.Children[1].Char
			if lo > hi {
				return nil, malformed("empty RANGE %q-%q", lo, hi)
			}
			for r := lo; r <= hi; r++ {
				picked[r] = true
			}
		default:
			return nil, malformed("%s cannot contain %s", n.Kind, c.Kind)
		}
	}

	var out []rune
	if n.Kind == pattern.Choice {
		for r := range picked {
			out = append(out, r)
		}
	} else {
		for _, r := range tagChars {
			if !picked[r] {
				out = append(out, r)
			}
		}
	}
	return out, nil
}
