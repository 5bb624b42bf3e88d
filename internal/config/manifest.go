package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

var ErrUnknownNode = errors.New("node not in manifest")

// Manifest describes the nodes a CloudMake deployment runs:
//
//	node "n1" {
//	  rules        = "rules.cm"
//	  root         = "data"
//	  config_files = ["n1/app.xml"]
//	  watch        = true
//	}
type Manifest struct {
	Nodes []Node `hcl:"node,block"`
}

type Node struct {
	Name                 string   `hcl:"name,label"`
	Rules                string   `hcl:"rules"`
	Root                 string   `hcl:"root,optional"`
	ConfigFiles          []string `hcl:"config_files,optional"`
	CloudMakeConfigFiles []string `hcl:"cloudmake_config_files,optional"`
	Seed                 []string `hcl:"seed,optional"`
	Watch                bool     `hcl:"watch,optional"`
	ExitPolicy           string   `hcl:"exit_policy,optional"`
}

func LoadManifest(path string) (*Manifest, error) {
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, diags)
	}
	return decodeManifest(file.Body, path)
}

func ParseManifest(src []byte, filename string) (*Manifest, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}
	return decodeManifest(file.Body, filename)
}

func decodeManifest(body hcl.Body, filename string) (*Manifest, error) {
	var m Manifest
	if diags := gohcl.DecodeBody(body, nil, &m); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, diags)
	}

	base := filepath.Dir(filename)
	seen := map[string]bool{}
	for i := range m.Nodes {
		n := &m.Nodes[i]
		if seen[n.Name] {
			return nil, fmt.Errorf("manifest %s: node %q declared twice", filename, n.Name)
		}
		seen[n.Name] = true
		if n.Root == "" {
			n.Root = "."
		}
		n.Rules = resolve(base, n.Rules)
		n.Root = resolve(base, n.Root)
	}
	return &m, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (m *Manifest) Node(name string) (Node, error) {
	for _, n := range m.Nodes {
		if n.Name == name {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("%w: %q", ErrUnknownNode, name)
}
