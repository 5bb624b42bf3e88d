package cloudmake

import (
	"strings"
	"testing"
)

// Small builders for rule trees, so tests read like the paths they match.

func seq(s string) string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, "CHAR("+string(r)+")")
	}
	return "SEQUENCE(" + strings.Join(parts, ",") + ")"
}

func name(s string) string { return "NAME(" + seq(s) + ")" }

// lower matches [a-z]*.
const lower = "NAME(SEQUENCE(ASTERISK(CHOICE(RANGE(CHAR(a),CHAR(z))))))"

func varRef(v string) string { return "VAR(" + strings.TrimSuffix(strings.TrimPrefix(seq(v), "SEQUENCE("), ")") + ")" }

func dir(names ...string) string { return "DIRPATH(" + strings.Join(names, ",") + ")" }

func event(d, file string) string { return "EVENT(" + d + "," + file + ")" }

func entry(d, file string, tags ...string) string {
	var names []string
	for _, t := range tags {
		names = append(names, name(t))
	}
	return "ENTRY(" + d + "," + file + ",XMLPATH(" + strings.Join(names, ",") + "))"
}

func action(s string) string {
	return "ACTION(" + strings.TrimSuffix(strings.TrimPrefix(seq(s), "SEQUENCE("), ")") + ")"
}

func rule(outputs, inputs []string, act string) string {
	return "RULE(OUTPUTS(" + strings.Join(outputs, ",") + "),INPUTS(" + strings.Join(inputs, ",") + ")," + action(act) + ")"
}

// file is EVENT n/f for literal names.
func file(node, f string) string { return event(dir(name(node)), name(f)) }

func compile(t *testing.T, lines ...string) *Makefile {
	t.Helper()
	m, err := NewCompiler().Compile(strings.Join(lines, "\n"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return m
}

type fakeTree struct {
	children map[string][]string
	errs     map[string]error
}

func (f fakeTree) Children(path string) ([]string, error) {
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	return f.children[path], nil
}
