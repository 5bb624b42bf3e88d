package executor

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const DefaultExitPolicy = "exit_code == 0"

// ExitPolicy decides whether an action succeeded. It is an expr expression
// over exit_code (int) and action (string), e.g. `exit_code in [0, 3]`.
type ExitPolicy struct {
	src  string
	prog *vm.Program
}

func policyEnv(action string, code int) map[string]any {
	return map[string]any{"exit_code": code, "action": action}
}

// CompileExitPolicy validates and compiles src. An empty src is the default
// policy.
func CompileExitPolicy(src string) (*ExitPolicy, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		src = DefaultExitPolicy
	}
	if err := Validate(src); err != nil {
		return nil, fmt.Errorf("exit policy %q: %w", src, err)
	}
	prog, err := expr.Compile(src, expr.Env(policyEnv("", 0)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("exit policy %q: %w", src, err)
	}
	return &ExitPolicy{src: src, prog: prog}, nil
}

func MustExitPolicy(src string) *ExitPolicy {
	p, err := CompileExitPolicy(src)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *ExitPolicy) String() string { return p.src }

func (p *ExitPolicy) Succeeded(action string, code int) (bool, error) {
	out, err := expr.Run(p.prog, policyEnv(action, code))
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("exit policy must evaluate to bool (got %T)", out)
	}
	return ok, nil
}

// Validate rejects expressions that reach beyond comparing exit_code and
// action: no member access, arithmetic or function calls.
func Validate(src string) error {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil
	}

	for _, ch := range []rune{'{', '}', ';', ':', '?', '@', '#', '$', '\\'} {
		if strings.ContainsRune(src, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}

	if strings.Contains(unquoted(src), ".") {
		return fmt.Errorf("dot access is not allowed")
	}

	for _, op := range []string{"+", "*", "/", "%"} {
		if strings.Contains(unquoted(src), op) {
			return fmt.Errorf("arithmetic operator %q is not allowed", op)
		}
	}

	code := unquoted(src)
	for i := 0; i < len(code); i++ {
		if code[i] != '(' {
			continue
		}
		j := i - 1
		for j >= 0 && unicode.IsSpace(rune(code[j])) {
			j--
		}
		k := j
		for k >= 0 && (unicode.IsLetter(rune(code[k])) || unicode.IsDigit(rune(code[k])) || code[k] == '_') {
			k--
		}
		if ident := code[k+1 : j+1]; ident != "" && ident != "in" && ident != "not" && ident != "and" && ident != "or" {
			return fmt.Errorf("function calls are not allowed (found %q(...))", ident)
		}
	}
	return nil
}

// unquoted blanks out string literals so their contents are not mistaken
// for operators.
func unquoted(src string) string {
	b := []byte(src)
	var quote byte
	for i := 0; i < len(b); i++ {
		switch {
		case quote != 0 && b[i] == quote:
			quote = 0
		case quote != 0:
			b[i] = ' '
		case b[i] == '"' || b[i] == '\'' || b[i] == '`':
			quote = b[i]
		}
	}
	return string(b)
}
