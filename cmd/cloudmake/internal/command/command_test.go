package command_test

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/awmpietro/cloudmake/cmd/cloudmake/internal/command"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	root := command.NewRootCommand()
	command.AddCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := command.NewRootCommand()

	assert.Equal(t, "cloudmake", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)
	assert.True(t, cmd.CompletionOptions.DisableDefaultCmd)

	flag := cmd.PersistentFlags().ShorthandLookup("o")
	require.NotNil(t, flag)
	assert.Equal(t, "output", flag.Name)
}

func TestAddCommands(t *testing.T) {
	root := command.NewRootCommand()
	command.AddCommands(root)

	for _, name := range []string{"check", "plan", "dot", "match", "run", "daemon"} {
		cmd, _, err := root.Find([]string{name})
		assert.NoError(t, err, "command %s should exist", name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.Len(t, root.Commands(), 6)
}

func TestCheck(t *testing.T) {
	out, err := execute(t, "check", "testdata/copy.cm")
	require.NoError(t, err)
	assert.Contains(t, out, "3 predicates, 2 policies, 2 tiers, 1 components")

	out, err = execute(t, "check", "testdata/cycle.cm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 cyclic component")
	assert.Contains(t, out, "dependency cycle")

	_, err = execute(t, "check", "testdata/missing.cm")
	assert.Error(t, err)
}

func TestPlan_Formats(t *testing.T) {
	out, err := execute(t, "plan", "testdata/cycle.cm")
	require.NoError(t, err)
	assert.Contains(t, out, "rejected")
	assert.Contains(t, out, "local")

	out, err = execute(t, "plan", "-o", "json", "testdata/copy.cm")
	require.NoError(t, err)
	var rep struct {
		Tiers [][]int  `json:"tiers"`
		Nodes []string `json:"nodes"`
		DOT   string   `json:"dot"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, [][]int{{0}, {1}}, rep.Tiers)
	assert.Equal(t, []string{"n1"}, rep.Nodes)
	assert.Empty(t, rep.DOT)

	out, err = execute(t, "plan", "-o", "yaml", "testdata/copy.cm")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "tiers")

	_, err = execute(t, "plan", "-o", "xml", "testdata/copy.cm")
	assert.Error(t, err)
}

func TestDOT(t *testing.T) {
	out, err := execute(t, "dot", "testdata/copy.cm")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "digraph"), out)
	assert.Contains(t, out, "cp $(inputs) n1/b")
}

func TestMatch(t *testing.T) {
	out, err := execute(t, "match", "testdata/copy.cm", "n1/a", "n1/", "n9")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Regexp(t, `^n1/a\s+0\s+-$`, lines[1])
	assert.Regexp(t, `^n1/\s+-\s+0,1,2$`, lines[2])
	assert.Regexp(t, `^n9\s+-\s+-$`, lines[3])
}

func TestRun_CopiesOnDisk(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "n1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "n1", "a"), []byte("hello"), 0o644))

	out, err := execute(t, "run", "testdata/copy.cm", "--root", root, "--config-file", "n1/c")
	require.NoError(t, err)
	assert.Contains(t, out, "2 policies run")
	assert.Contains(t, out, "modified config files: n1/c")

	b, err := os.ReadFile(filepath.Join(root, "n1", "c"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestRun_UnknownNode(t *testing.T) {
	_, err := execute(t, "run", "testdata/copy.cm", "--root", t.TempDir(), "--node", "n7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"n7"`)
}

func TestDaemon_BadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`node "n1" { rules = "missing.cm" }`), 0o644))

	_, err := execute(t, "daemon", "--manifest", path)
	require.Error(t, err)

	_, err = execute(t, "daemon", "--manifest", path, "--node", "n2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node not in manifest")
}
