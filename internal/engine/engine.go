// Package engine runs a compiled makefile against a live resource tree.
// Entries are concrete resources matched by the predicates; a token on an
// entry means it changed and the policies reading it must run again.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/awmpietro/cloudmake/internal/cloudmake"
	"github.com/awmpietro/cloudmake/internal/executor"
)

var (
	ErrUnknownEntry    = errors.New("unknown entry")
	ErrPendingPolicies = errors.New("policies still hold tokens")
	ErrCyclic          = errors.New("makefile has a dependency cycle")
)

const inputsVar = " $(inputs)"

// Resources is the tree the engine discovers entries in and digests them
// with.
type Resources interface {
	cloudmake.Tree
	Digest(entry string) (digest string, exists bool, err error)
}

// ActionError reports a policy whose action failed to run or was judged a
// failure by the exit policy. Its outputs are not tokened.
type ActionError struct {
	Policy   int
	Action   string
	ExitCode int
	Err      error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("policy %d %q: %v", e.Policy, e.Action, e.Err)
	}
	return fmt.Sprintf("policy %d %q: exit code %d", e.Policy, e.Action, e.ExitCode)
}

func (e *ActionError) Unwrap() error { return e.Err }

type set = map[int]struct{}

// Engine is the dependency structure of one makefile. It is not safe for
// concurrent use; the daemon owns it from a single goroutine.
type Engine struct {
	mf       *cloudmake.Makefile
	tiers    [][]int
	res      Resources
	exec     executor.Executor
	exit     *executor.ExitPolicy
	observer Observer
	logger   *slog.Logger

	entries []string
	index   map[string]int
	readers [][]int // per entry
	inputs  []set   // per policy
	outputs []set   // per policy

	pending      set // entries not yet run
	tokens       set // entries tokened since the last Reset
	policyTokens set
	known        map[int]digest // last digest seen per entry

	configFiles          map[string]struct{}
	cloudMakeConfigFiles map[string]struct{}
	modified             []string
	modifiedCloudMake    []string
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithExitPolicy(p *executor.ExitPolicy) Option {
	return func(e *Engine) { e.exit = p }
}

// New builds the engine for mf. mf must be acyclic.
func New(mf *cloudmake.Makefile, res Resources, exec executor.Executor, opts ...Option) (*Engine, error) {
	if mf.DetectCycles() {
		return nil, ErrCyclic
	}
	e := &Engine{
		mf:                   mf,
		tiers:                mf.Tiers(),
		res:                  res,
		exec:                 exec,
		exit:                 executor.MustExitPolicy(executor.DefaultExitPolicy),
		logger:               slog.Default(),
		index:                map[string]int{},
		inputs:               make([]set, mf.NumPolicies()),
		outputs:              make([]set, mf.NumPolicies()),
		pending:              set{},
		tokens:               set{},
		policyTokens:         set{},
		known:                map[int]digest{},
		configFiles:          map[string]struct{}{},
		cloudMakeConfigFiles: map[string]struct{}{},
	}
	for p := range e.inputs {
		e.inputs[p] = set{}
		e.outputs[p] = set{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Makefile() *cloudmake.Makefile { return e.mf }

// Entries returns the registered entries in registration order.
func (e *Engine) Entries() []string { return slices.Clone(e.entries) }

// AddEntry registers a match. Registering a known entry is a no-op and
// returns false.
func (e *Engine) AddEntry(m cloudmake.Match) bool {
	if _, ok := e.index[m.Path]; ok {
		return false
	}
	id := len(e.entries)
	e.entries = append(e.entries, m.Path)
	e.index[m.Path] = id
	readers := e.mf.Readers(m.Predicate)
	e.readers = append(e.readers, readers)
	for _, p := range readers {
		e.inputs[p][id] = struct{}{}
	}
	for _, p := range e.mf.Writers(m.Predicate) {
		e.outputs[p][id] = struct{}{}
	}
	return true
}

func (e *Engine) AddEntries(ms []cloudmake.Match) {
	for _, m := range ms {
		e.AddEntry(m)
	}
}

func (e *Engine) AddTokenToEntry(name string) error {
	id, ok := e.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, name)
	}
	e.token(id)
	return nil
}

func (e *Engine) token(id int) {
	e.mark(id, e.digest(e.entries[id]))
}

func (e *Engine) mark(id int, d digest) {
	e.known[id] = d
	e.pending[id] = struct{}{}
	e.tokens[id] = struct{}{}
}

// Discover registers and tokens every entry found under start. Listing
// errors are returned alongside the entries that were found.
func (e *Engine) Discover(start string) ([]string, error) {
	matches, err := e.mf.FindMatchingEntries(e.res, start, nil)
	var out []string
	for _, m := range matches {
		e.AddEntry(m)
		e.token(e.index[m.Path])
		out = append(out, m.Path)
	}
	return out, err
}

// Touch tokens the entries at or below path whose content or existence
// changed since the engine last saw them: registered entries that lie in it,
// whether or not they still exist, and entries discovered under it. An
// unchanged entry keeps its readers idle.
func (e *Engine) Touch(path string) ([]string, error) {
	hit := set{}
	for id, name := range e.entries {
		if path == "" || within(name, path) {
			hit[id] = struct{}{}
		}
	}
	matches, err := e.mf.FindMatchingEntries(e.res, path, nil)
	for _, m := range matches {
		e.AddEntry(m)
		hit[e.index[m.Path]] = struct{}{}
	}

	touched := set{}
	for id := range hit {
		d := e.digest(e.entries[id])
		if old, ok := e.known[id]; ok && old == d {
			continue
		}
		e.mark(id, d)
		touched[id] = struct{}{}
	}
	return e.names(touched), err
}

func (e *Engine) AddConfigFile(name string) { e.configFiles[name] = struct{}{} }

func (e *Engine) AddCloudMakeConfigFile(name string) { e.cloudMakeConfigFiles[name] = struct{}{} }

func (e *Engine) ModifiedConfigFiles() []string { return slices.Clone(e.modified) }

func (e *Engine) ModifiedCloudMakeConfigFiles() []string { return slices.Clone(e.modifiedCloudMake) }

// HasActiveEntryTokens reports whether some entry changed since the last run.
func (e *Engine) HasActiveEntryTokens() bool { return len(e.pending) > 0 }

// ActiveEntries returns the entries tokened since the last Reset, sorted.
func (e *Engine) ActiveEntries() []string { return e.names(e.tokens) }

func (e *Engine) names(ids set) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, e.entries[id])
	}
	slices.Sort(out)
	return out
}

// Run executes the policies affected by the pending tokens, tier by tier.
// Outputs that change are tokened and picked up by later tiers of the same
// run. Failed actions are reported as *ActionError values joined together;
// the run continues past them.
func (e *Engine) Run(ctx context.Context) (*Trace, error) {
	start := time.Now()
	active := maps.Clone(e.pending)
	clear(e.pending)
	run := maps.Clone(active)

	trace := &Trace{Started: start}
	var errs []error

	for tier := 0; len(active) > 0 || len(e.policyTokens) > 0; tier++ {
		consumed := maps.Clone(active)
		for id := range active {
			for _, p := range e.readers[id] {
				e.policyTokens[p] = struct{}{}
			}
		}
		if tier >= len(e.tiers) {
			break
		}

		tt := TierTrace{Tier: tier}
		for _, p := range e.tiers[tier] {
			if _, ok := e.policyTokens[p]; !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				e.abort(run)
				trace.Activated = e.names(run)
				return trace, errors.Join(append(errs, err)...)
			}
			pt, changed, err := e.runPolicy(ctx, tier, p, run)
			delete(e.policyTokens, p)
			tt.Policies = append(tt.Policies, pt)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for _, id := range changed {
				e.tokens[id] = struct{}{}
				active[id] = struct{}{}
				run[id] = struct{}{}
			}
		}
		if len(tt.Policies) > 0 {
			trace.Tiers = append(trace.Tiers, tt)
		}

		for id := range consumed {
			delete(active, id)
		}
	}

	trace.Activated = e.names(run)
	e.modified = e.matchFiles(run, e.configFiles)
	e.modifiedCloudMake = e.matchFiles(run, e.cloudMakeConfigFiles)
	trace.ModifiedConfigFiles = e.ModifiedConfigFiles()
	trace.ModifiedCloudMakeConfigFiles = e.ModifiedCloudMakeConfigFiles()
	trace.DurationMicros = time.Since(start).Microseconds()
	return trace, errors.Join(errs...)
}

// abort puts the tokens of an interrupted run back so the next run retries.
func (e *Engine) abort(run set) {
	clear(e.policyTokens)
	for id := range run {
		e.pending[id] = struct{}{}
	}
}

func (e *Engine) runPolicy(ctx context.Context, tier, p int, run set) (PolicyTrace, []int, error) {
	action := e.mf.Policy(p).Action
	pt := PolicyTrace{Policy: p, Action: action, ExitCode: -1}

	line := action
	if strings.Contains(line, inputsVar) {
		var in []string
		for id := range e.inputs[p] {
			if _, ok := run[id]; ok {
				in = append(in, e.entries[id])
			}
		}
		slices.Sort(in)
		sub := ""
		if len(in) > 0 {
			sub = " " + strings.Join(in, " ")
		}
		line = strings.ReplaceAll(line, inputsVar, sub)
	}
	pt.Command = line

	before := map[int]digest{}
	for id := range e.outputs[p] {
		before[id] = e.digest(e.entries[id])
	}

	fail := func(code int, err error) (PolicyTrace, []int, error) {
		aerr := &ActionError{Policy: p, Action: line, ExitCode: code, Err: err}
		pt.ExitCode = code
		pt.Error = aerr.Error()
		e.observe(pt, tier)
		e.logger.Warn("policy failed", "policy", p, "command", line, "exit_code", code, "error", err)
		return pt, nil, aerr
	}

	cmd, err := executor.ParseCommand(line)
	if err != nil {
		return fail(-1, err)
	}

	began := time.Now()
	code, err := e.exec.Execute(ctx, cmd)
	pt.DurationMicros = time.Since(began).Microseconds()
	if err != nil {
		return fail(code, err)
	}
	ok, err := e.exit.Succeeded(action, code)
	if err != nil {
		return fail(code, err)
	}
	if !ok {
		return fail(code, nil)
	}
	pt.ExitCode = code
	pt.Succeeded = true

	preds := e.mf.Policy(p).Outputs
	matches, err := e.mf.FindMatchingEntries(e.res, "", preds)
	if err != nil {
		e.logger.Warn("output discovery incomplete", "policy", p, "error", err)
	}

	var changed []int
	for _, m := range matches {
		if e.AddEntry(m) {
			id := e.index[m.Path]
			e.known[id] = e.digest(m.Path)
			changed = append(changed, id)
		}
	}
	for id, old := range before {
		now := e.digest(e.entries[id])
		e.known[id] = now
		if now != old {
			changed = append(changed, id)
		}
	}
	slices.Sort(changed)
	for _, id := range changed {
		pt.Changed = append(pt.Changed, e.entries[id])
	}

	e.observe(pt, tier)
	e.logger.Debug("policy executed", "policy", p, "command", line, "changed", pt.Changed)
	return pt, changed, nil
}

type digest struct {
	sum    string
	exists bool
}

func (e *Engine) digest(entry string) digest {
	sum, ok, err := e.res.Digest(entry)
	if err != nil {
		e.logger.Warn("digest failed", "entry", entry, "error", err)
		return digest{}
	}
	return digest{sum: sum, exists: ok}
}

func (e *Engine) observe(pt PolicyTrace, tier int) {
	if e.observer == nil {
		return
	}
	e.observer.ObservePolicy(PolicyEvent{
		Policy:    pt.Policy,
		Action:    e.mf.Policy(pt.Policy).Action,
		Tier:      tier,
		ExitCode:  pt.ExitCode,
		Succeeded: pt.Succeeded,
		Changed:   len(pt.Changed),
		Duration:  time.Duration(pt.DurationMicros) * time.Microsecond,
	})
}

// matchFiles returns the files that one of the entries lies in: the entry
// is the file itself or continues it with '{' or '/'.
func (e *Engine) matchFiles(ids set, files map[string]struct{}) []string {
	hit := map[string]struct{}{}
	for id := range ids {
		name := e.entries[id]
		for f := range files {
			if within(name, f) {
				hit[f] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(hit))
}

func within(entry, file string) bool {
	if !strings.HasPrefix(entry, file) {
		return false
	}
	if len(entry) == len(file) {
		return true
	}
	next := entry[len(file)]
	return next == '{' || next == '/'
}

// Reset ends a cycle: entry tokens and the modified sets are cleared. It
// fails while policies still hold tokens.
func (e *Engine) Reset() error {
	if len(e.policyTokens) > 0 {
		return fmt.Errorf("%w: %v", ErrPendingPolicies, slices.Sorted(maps.Keys(e.policyTokens)))
	}
	clear(e.tokens)
	clear(e.pending)
	e.modified = nil
	e.modifiedCloudMake = nil
	return nil
}
