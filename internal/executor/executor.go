// Package executor runs policy actions. Actions are opaque command lines;
// whether a run succeeded is decided by an ExitPolicy over its exit code.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"unicode"

	"github.com/google/shlex"
)

var ErrEmptyCommand = errors.New("empty command")

// Command is a parsed action line.
type Command struct {
	Name string
	Args []string
	Line string
}

func (c Command) String() string { return c.Line }

// ParseCommand splits action into the program name (everything up to the
// first whitespace) and its arguments, which follow shell quoting rules.
func ParseCommand(action string) (Command, error) {
	line := strings.TrimSpace(action)
	if line == "" {
		return Command{}, ErrEmptyCommand
	}
	name, rest := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		name, rest = line[:i], line[i:]
	}
	args, err := shlex.Split(rest)
	if err != nil {
		return Command{}, fmt.Errorf("parse arguments of %q: %w", name, err)
	}
	if len(args) == 0 {
		args = nil
	}
	return Command{Name: name, Args: args, Line: line}, nil
}

type Executor interface {
	// Execute runs c to completion. A non-zero exit code is not an error;
	// err is reserved for commands that could not be run at all.
	Execute(ctx context.Context, c Command) (exitCode int, err error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, c Command) (int, error)

func (f Func) Execute(ctx context.Context, c Command) (int, error) { return f(ctx, c) }

// Local runs commands as child processes.
type Local struct {
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (l *Local) Execute(ctx context.Context, c Command) (int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = l.Dir
	if l.Env != nil {
		cmd.Env = l.Env
	}
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
