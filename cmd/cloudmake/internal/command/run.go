package command

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/awmpietro/cloudmake/internal/cloudmake"
	"github.com/awmpietro/cloudmake/internal/ctxlog"
	"github.com/awmpietro/cloudmake/internal/engine"
	"github.com/awmpietro/cloudmake/internal/executor"
	"github.com/awmpietro/cloudmake/internal/resource"
)

type nodeOptions struct {
	rules      string
	node       string
	root       string
	exitPolicy string
}

// localMakefile compiles rules and returns the part of it that node runs on
// its own. An empty node is accepted when the rules name exactly one.
func localMakefile(logger *slog.Logger, src, node string) (*cloudmake.Makefile, string, error) {
	m, err := cloudmake.NewCompiler().Compile(src)
	if err != nil {
		return nil, "", err
	}
	plan, err := cloudmake.NewPlan(m)
	if err != nil {
		logger.Warn("cyclic components are skipped", "error", err)
	}
	if node == "" {
		nodes := plan.Nodes()
		if len(nodes) != 1 {
			return nil, "", fmt.Errorf("rules are local to %d nodes %v, pick one with --node", len(nodes), nodes)
		}
		node = nodes[0]
	}
	local, ok := plan.Local(node)
	if !ok {
		return nil, "", fmt.Errorf("no rule is local to node %q", node)
	}
	if n := len(plan.Leaders()); n > 0 {
		logger.Warn("components spanning several nodes are not run locally", "count", n)
	}
	return local, node, nil
}

func newEngine(cmd *cobra.Command, mf *cloudmake.Makefile, res engine.Resources, root, exitPolicy string, extra ...engine.Observer) (*engine.Engine, error) {
	logger := ctxlog.FromContext(cmd.Context())
	if exitPolicy == "" {
		exitPolicy = opts.runtime.ExitPolicy
	}
	if exitPolicy == "" {
		exitPolicy = executor.DefaultExitPolicy
	}
	policy, err := executor.CompileExitPolicy(exitPolicy)
	if err != nil {
		return nil, err
	}
	observers := engine.MultiObserver{engine.NewLogObserver(logger)}
	observers = append(observers, extra...)
	exec := &executor.Local{Dir: root, Stdout: cmd.ErrOrStderr(), Stderr: cmd.ErrOrStderr()}
	return engine.New(mf, res, exec,
		engine.WithLogger(logger),
		engine.WithExitPolicy(policy),
		engine.WithObserver(observers),
	)
}

func NewRunCommand() *cobra.Command {
	var (
		o           nodeOptions
		seeds       []string
		configFiles []string
	)
	cmd := &cobra.Command{
		Use:   "run RULES",
		Short: "Discover entries under the root and run one build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := ctxlog.FromContext(cmd.Context())
			src, err := readRules(cmd, args[0])
			if err != nil {
				return err
			}
			mf, node, err := localMakefile(logger, src, o.node)
			if err != nil {
				return err
			}
			if o.root == "" {
				o.root = opts.runtime.Root
			}

			eng, err := newEngine(cmd, mf, resource.Dir(o.root), o.root, o.exitPolicy)
			if err != nil {
				return err
			}
			for _, f := range configFiles {
				eng.AddConfigFile(f)
			}
			if len(seeds) == 0 {
				seeds = []string{""}
			}
			var errs []error
			for _, s := range seeds {
				found, err := eng.Discover(s)
				if err != nil {
					errs = append(errs, err)
				}
				logger.Debug("discovered", "node", node, "start", s, "entries", len(found))
			}

			trace, runErr := eng.Run(cmd.Context())
			if err := render(cmd.OutOrStdout(), trace, printTrace); err != nil {
				return err
			}
			return errors.Join(append(errs, runErr)...)
		},
	}
	cmd.Flags().StringVar(&o.node, "node", "", "Node whose local rules run")
	cmd.Flags().StringVar(&o.root, "root", "", "Directory holding the resource tree")
	cmd.Flags().StringVar(&o.exitPolicy, "exit-policy", "", "Expression deciding whether an action succeeded")
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "Paths to discover entries under (default: the whole root)")
	cmd.Flags().StringSliceVar(&configFiles, "config-file", nil, "Config files to report when they change")
	return cmd
}

func printTrace(w io.Writer, t *engine.Trace) error {
	for _, tier := range t.Tiers {
		for _, p := range tier.Policies {
			status := "ok"
			if !p.Succeeded {
				status = "failed"
			}
			if _, err := fmt.Fprintf(w, "tier %d  policy %d  %-6s exit=%d  %s\n", tier.Tier, p.Policy, status, p.ExitCode, p.Command); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "%d policies run, %d entries activated, modified config files: %s\n",
		t.Executed(), len(t.Activated), list(t.ModifiedConfigFiles))
	return err
}

func list(xs []string) string {
	if len(xs) == 0 {
		return "-"
	}
	return strings.Join(xs, ",")
}
