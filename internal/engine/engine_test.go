package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmpietro/cloudmake/internal/cloudmake"
	"github.com/awmpietro/cloudmake/internal/executor"
	"github.com/awmpietro/cloudmake/internal/resource"
)

func chars(s string) string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, "CHAR("+string(r)+")")
	}
	return strings.Join(parts, ",")
}

// file is the rule tree of the literal path node/name.
func file(node, name string) string {
	return "EVENT(DIRPATH(NAME(SEQUENCE(" + chars(node) + "))),NAME(SEQUENCE(" + chars(name) + ")))"
}

func rule(out, in, action string) string {
	return "RULE(OUTPUTS(" + out + "),INPUTS(" + in + "),ACTION(" + chars(action) + "))"
}

func makefile(t *testing.T, rules ...string) *cloudmake.Makefile {
	t.Helper()
	m, err := cloudmake.NewCompiler().Compile(strings.Join(rules, "\n"))
	require.NoError(t, err)
	return m
}

// shell fakes a few coreutils over a MapFS and records every command line.
type shell struct {
	mu    sync.Mutex
	fsys  fstest.MapFS
	lines []string
	fail  map[string]int
}

func (s *shell) Execute(_ context.Context, c executor.Command) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, c.Line)
	if code, ok := s.fail[c.Name]; ok {
		return code, nil
	}
	switch c.Name {
	case "cp":
		src, ok := s.fsys[c.Args[0]]
		if !ok {
			return 1, nil
		}
		s.fsys[c.Args[1]] = &fstest.MapFile{Data: slices.Clone(src.Data)}
	case "rm":
		delete(s.fsys, c.Args[0])
	case "touch":
		if _, ok := s.fsys[c.Args[0]]; !ok {
			s.fsys[c.Args[0]] = &fstest.MapFile{}
		}
	default:
		return 127, nil
	}
	return 0, nil
}

func (s *shell) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.lines
	s.lines = nil
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []PolicyEvent
}

func (r *recorder) ObservePolicy(ev PolicyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func copyChain(t *testing.T) *cloudmake.Makefile {
	return makefile(t,
		rule(file("n1", "b"), file("n1", "a"), "cp $(inputs) n1/b"),
		rule(file("n1", "c"), file("n1", "b"), "cp $(inputs) n1/c"),
	)
}

func TestRun_CopyChain(t *testing.T) {
	fsys := fstest.MapFS{"n1/a": {Data: []byte("hello")}}
	sh := &shell{fsys: fsys}
	obs := &recorder{}
	e, err := New(copyChain(t), resource.New(fsys), sh, WithObserver(obs))
	require.NoError(t, err)

	found, err := e.Discover("")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1/a"}, found)
	require.True(t, e.HasActiveEntryTokens())

	trace, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cp n1/a n1/b", "cp n1/b n1/c"}, sh.ran())
	assert.Equal(t, "hello", string(fsys["n1/c"].Data))
	assert.Equal(t, 2, trace.Executed())
	assert.Equal(t, []string{"n1/a", "n1/b", "n1/c"}, trace.Activated)
	require.Len(t, trace.Tiers, 2)
	assert.Equal(t, []string{"n1/b"}, trace.Tiers[0].Policies[0].Changed)
	assert.Len(t, obs.events, 2)
	assert.True(t, obs.events[1].Succeeded)
	assert.Equal(t, 1, obs.events[1].Tier)
	assert.False(t, e.HasActiveEntryTokens())
	require.NoError(t, e.Reset())

	// nothing changed: nothing runs
	trace, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, trace.Executed())
	assert.Empty(t, sh.ran())

	// edit the source
	fsys["n1/a"] = &fstest.MapFile{Data: []byte("world")}
	require.NoError(t, e.AddTokenToEntry("n1/a"))
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, sh.ran(), 2)
	assert.Equal(t, "world", string(fsys["n1/c"].Data))
	require.NoError(t, e.Reset())

	assert.Equal(t, []string{"n1/a", "n1/b", "n1/c"}, e.Entries())
}

func TestRun_UnchangedOutputStopsPropagation(t *testing.T) {
	fsys := fstest.MapFS{"n1/a": {Data: []byte("x")}}
	sh := &shell{fsys: fsys}
	e, err := New(copyChain(t), resource.New(fsys), sh)
	require.NoError(t, err)
	_, err = e.Discover("")
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	sh.ran()
	require.NoError(t, e.Reset())

	// touched but identical content: n1/b does not change, so n1/c is not rebuilt
	require.NoError(t, e.AddTokenToEntry("n1/a"))
	trace, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cp n1/a n1/b"}, sh.ran())
	assert.Equal(t, 1, trace.Executed())
	assert.Empty(t, trace.Tiers[0].Policies[0].Changed)
}

func TestRun_FailedActionDoesNotPropagate(t *testing.T) {
	fsys := fstest.MapFS{"n1/a": {Data: []byte("x")}}
	sh := &shell{fsys: fsys, fail: map[string]int{"cp": 2}}
	obs := &recorder{}
	e, err := New(copyChain(t), resource.New(fsys), sh, WithObserver(obs))
	require.NoError(t, err)
	_, err = e.Discover("")
	require.NoError(t, err)

	trace, err := e.Run(context.Background())
	require.Error(t, err)
	var aerr *ActionError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 0, aerr.Policy)
	assert.Equal(t, 2, aerr.ExitCode)
	assert.Equal(t, "cp n1/a n1/b", aerr.Action)

	assert.Equal(t, []string{"cp n1/a n1/b"}, sh.ran())
	assert.Equal(t, 1, trace.Executed())
	assert.False(t, trace.Tiers[0].Policies[0].Succeeded)
	assert.NotEmpty(t, trace.Tiers[0].Policies[0].Error)
	assert.False(t, obs.events[0].Succeeded)
	require.NoError(t, e.Reset())
}

func TestRun_ExitPolicyAcceptsNonZero(t *testing.T) {
	fsys := fstest.MapFS{"n1/a": {Data: []byte("x")}}
	sh := &shell{fsys: fsys, fail: map[string]int{"cp": 3}}
	e, err := New(copyChain(t), resource.New(fsys), sh,
		WithExitPolicy(executor.MustExitPolicy("exit_code in [0, 3]")))
	require.NoError(t, err)
	_, err = e.Discover("")
	require.NoError(t, err)

	trace, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, trace.Tiers[0].Policies[0].Succeeded)
	assert.Equal(t, 3, trace.Tiers[0].Policies[0].ExitCode)
}

func TestRun_DeletedOutputCountsAsChanged(t *testing.T) {
	fsys := fstest.MapFS{
		"n1/a": {Data: []byte("x")},
		"n1/b": {Data: []byte("y")},
	}
	sh := &shell{fsys: fsys}
	mf := makefile(t,
		rule(file("n1", "b"), file("n1", "a"), "rm n1/b"),
		rule(file("n1", "c"), file("n1", "b"), "touch n1/c"),
	)
	e, err := New(mf, resource.New(fsys), sh)
	require.NoError(t, err)

	matches, err := mf.FindMatchingEntries(resource.New(fsys), "", nil)
	require.NoError(t, err)
	e.AddEntries(matches)
	require.NoError(t, e.AddTokenToEntry("n1/a"))

	trace, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"rm n1/b", "touch n1/c"}, sh.ran())
	assert.Equal(t, []string{"n1/b"}, trace.Tiers[0].Policies[0].Changed)
}

func TestRun_ModifiedConfigFiles(t *testing.T) {
	fsys := fstest.MapFS{"n1/a": {Data: []byte("x")}}
	sh := &shell{fsys: fsys}
	e, err := New(copyChain(t), resource.New(fsys), sh)
	require.NoError(t, err)
	e.AddConfigFile("n1/c")
	e.AddConfigFile("n1/cc")
	e.AddCloudMakeConfigFile("n1/a")
	e.AddCloudMakeConfigFile("n2/a")

	_, err = e.Discover("")
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"n1/c"}, e.ModifiedConfigFiles())
	assert.Equal(t, []string{"n1/a"}, e.ModifiedCloudMakeConfigFiles())

	// recomputed per run
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, e.ModifiedConfigFiles())

	require.NoError(t, e.Reset())
	assert.Empty(t, e.ActiveEntries())
}

func TestWithin(t *testing.T) {
	cases := []struct {
		entry, file string
		want        bool
	}{
		{"n1/conf.xml", "n1/conf.xml", true},
		{"n1/conf.xml{config}{a}", "n1/conf.xml", true},
		{"n1/conf.xml2", "n1/conf.xml", false},
		{"n1/x", "n1", true},
		{"n10/x", "n1", false},
		{"n1", "n1/x", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, within(tc.entry, tc.file), "%s in %s", tc.entry, tc.file)
	}
}

func TestEngine_Errors(t *testing.T) {
	fsys := fstest.MapFS{}
	_, err := New(makefile(t, rule(file("n1", "x"), file("n1", "x"), "touch n1/x")), resource.New(fsys), &shell{fsys: fsys})
	assert.True(t, errors.Is(err, ErrCyclic))

	e, err := New(copyChain(t), resource.New(fsys), &shell{fsys: fsys})
	require.NoError(t, err)
	assert.True(t, errors.Is(e.AddTokenToEntry("n1/a"), ErrUnknownEntry))

	assert.True(t, e.AddEntry(cloudmake.Match{Path: "n1/a", Predicate: 0}))
	assert.False(t, e.AddEntry(cloudmake.Match{Path: "n1/a", Predicate: 0}))
}

func TestRun_CanceledContextKeepsTokens(t *testing.T) {
	fsys := fstest.MapFS{"n1/a": {Data: []byte("x")}}
	sh := &shell{fsys: fsys}
	e, err := New(copyChain(t), resource.New(fsys), sh)
	require.NoError(t, err)
	_, err = e.Discover("")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, sh.ran())
	assert.True(t, e.HasActiveEntryTokens())
	require.NoError(t, e.Reset())
}

func TestRun_RealProcesses(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "n1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "n1", "a"), []byte("data"), 0o644))

	e, err := New(copyChain(t), resource.Dir(root), &executor.Local{Dir: root})
	require.NoError(t, err)
	_, err = e.Discover("")
	require.NoError(t, err)
	trace, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, trace.Executed())

	b, err := os.ReadFile(filepath.Join(root, "n1", "c"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
}

func TestTouch_TokensOnlyChangedEntries(t *testing.T) {
	fsys := fstest.MapFS{"n1/a": {Data: []byte("hello")}}
	sh := &shell{fsys: fsys}
	e, err := New(copyChain(t), resource.New(fsys), sh)
	require.NoError(t, err)

	_, err = e.Discover("")
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Reset())
	sh.ran()

	// The engine wrote n1/b and n1/c itself; seeing them again is not a change.
	touched, err := e.Touch("n1/b")
	require.NoError(t, err)
	assert.Empty(t, touched)
	touched, err = e.Touch("n1")
	require.NoError(t, err)
	assert.Empty(t, touched)
	assert.False(t, e.HasActiveEntryTokens())

	fsys["n1/a"] = &fstest.MapFile{Data: []byte("world")}
	touched, err = e.Touch("n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1/a"}, touched)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cp n1/a n1/b", "cp n1/b n1/c"}, sh.ran())
	require.NoError(t, e.Reset())

	delete(fsys, "n1/c")
	touched, err = e.Touch("n1/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1/c"}, touched)
}
