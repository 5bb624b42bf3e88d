package pattern

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports where a rule tree stopped making sense. It wraps
// ErrMalformed so callers can test for either.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrMalformed }

// Parse reads a single rule tree. The character following "CHAR(" is taken
// literally, so parentheses and commas can be matched as characters.
func Parse(text string) (*Node, error) {
	p := &parser{src: []rune(text)}
	n, err := p.node()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.src) {
		return nil, p.errorf(p.pos, "unexpected trailing input %q", string(p.src[p.pos:]))
	}
	return n, nil
}

type parser struct {
	src []rune
	pos int
}

func (p *parser) errorf(offset int, format string, args ...any) error {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) node() (*Node, error) {
	start := p.pos
	for p.pos < len(p.src) && isKindRune(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == len(p.src) || p.src[p.pos] != '(' {
		return nil, p.errorf(p.pos, "expected '(' after node kind")
	}
	name := string(p.src[start:p.pos])
	kind, ok := kindFromString(name)
	if !ok {
		return nil, p.errorf(start, "unknown node kind %q", name)
	}
	p.pos++

	n := &Node{Kind: kind}
	if kind == Char {
		if p.pos+1 >= len(p.src) || p.src[p.pos+1] != ')' {
			return nil, p.errorf(start, "CHAR takes exactly one character")
		}
		n.Char = p.src[p.pos]
		p.pos += 2
		return n, nil
	}

	if p.pos < len(p.src) && p.src[p.pos] == ')' {
		p.pos++
	} else {
	children:
		for {
			child, err := p.node()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
			if p.pos >= len(p.src) {
				return nil, p.errorf(start, "unterminated %s", kind)
			}
			switch p.src[p.pos] {
			case ',':
				p.pos++
			case ')':
				p.pos++
				break children
			default:
				return nil, p.errorf(p.pos, "expected ',' or ')' in %s, got %q", kind, p.src[p.pos])
			}
		}
	}

	if want, ok := arity[kind]; ok && len(n.Children) != want {
		return nil, p.errorf(start, "%s takes %d children, got %d", kind, want, len(n.Children))
	}
	return n, nil
}

func isKindRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || r == '_'
}

// Text concatenates the CHAR children of n.
func Text(n *Node) (string, error) {
	var b strings.Builder
	for _, c := range n.Children {
		if c.Kind != Char {
			return "", fmt.Errorf("%w: %s must contain only CHAR nodes, found %s", ErrMalformed, n.Kind, c.Kind)
		}
		b.WriteRune(c.Char)
	}
	return b.String(), nil
}

// Int parses the text of n as a decimal integer.
func Int(n *Node) (int, error) {
	s, err := Text(n)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformed, s)
	}
	return v, nil
}

// Literal returns a SEQUENCE matching exactly s.
func Literal(s string) *Node {
	n := &Node{Kind: Sequence}
	for _, r := range s {
		n.Children = append(n.Children, &Node{Kind: Char, Char: r})
	}
	return n
}
