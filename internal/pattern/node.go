// Package pattern parses the prefix-notation rule trees produced by the
// CloudMake tokenizer, e.g. EVENT(DIRPATH(NAME(SEQUENCE(CHAR(n)))),NAME(...)).
package pattern

import (
	"errors"
	"strings"
)

// ErrMalformed marks a structurally invalid tree: a wrong child count or a
// child of the wrong kind for a production.
var ErrMalformed = errors.New("malformed rule tree")

type Kind int

const (
	Var Kind = iota
	Char
	Range
	Choice
	NoChoice
	Union
	Atom
	Asterisk
	Plus
	QuestionMark
	Sequence
	Name
	DirPath
	XMLPath
	Event
	Entry
	Inputs
	Outputs
	Rule
	SRule
	NRule
	Action
)

var kindNames = [...]string{
	Var:          "VAR",
	Char:         "CHAR",
	Range:        "RANGE",
	Choice:       "CHOICE",
	NoChoice:     "NO_CHOICE",
	Union:        "UNION",
	Atom:         "ATOM",
	Asterisk:     "ASTERISK",
	Plus:         "PLUS",
	QuestionMark: "QUESTIONMARK",
	Sequence:     "SEQUENCE",
	Name:         "NAME",
	DirPath:      "DIRPATH",
	XMLPath:      "XMLPATH",
	Event:        "EVENT",
	Entry:        "ENTRY",
	Inputs:       "INPUTS",
	Outputs:      "OUTPUTS",
	Rule:         "RULE",
	SRule:        "SRULE",
	NRule:        "NRULE",
	Action:       "ACTION",
}

// arity lists the kinds whose child count is fixed.
var arity = map[Kind]int{
	Range:        2,
	Union:        2,
	Atom:         1,
	Asterisk:     1,
	Plus:         1,
	QuestionMark: 1,
	Event:        2,
	Entry:        3,
	Rule:         3,
	SRule:        3,
	NRule:        3,
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "UNKNOWN"
	}
	return kindNames[k]
}

func kindFromString(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Node is one production of the rule grammar. Char is only meaningful for
// Char nodes, which never have children.
type Node struct {
	Kind     Kind
	Char     rune
	Children []*Node
}

func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	b.WriteString(n.Kind.String())
	b.WriteByte('(')
	if n.Kind == Char {
		b.WriteRune(n.Char)
	} else {
		for i, c := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			c.write(b)
		}
	}
	b.WriteByte(')')
}

// Is reports whether n has one of the given kinds.
func (n *Node) Is(kinds ...Kind) bool {
	for _, k := range kinds {
		if n.Kind == k {
			return true
		}
	}
	return false
}
