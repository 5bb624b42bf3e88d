package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/awmpietro/cloudmake/internal/app"
	"github.com/awmpietro/cloudmake/internal/ctxlog"
)

func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check RULES",
		Short: "Compile a rule file and report cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := analyze(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range rep.Problems {
				fmt.Fprintln(out, color.RedString("error:"), p)
			}
			if rep.Cyclic {
				return fmt.Errorf("%s: %d cyclic component(s)", args[0], len(rep.Problems))
			}
			fmt.Fprintf(out, "%s %s: %d predicates, %d policies, %d tiers, %d components\n",
				color.GreenString("ok"), args[0], len(rep.Predicates), len(rep.Policies), len(rep.Tiers), len(rep.Components))
			return nil
		},
	}
}

func NewPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan RULES",
		Short: "Show predicates, tiers and the components each node runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := analyze(cmd, args[0])
			if err != nil {
				return err
			}
			r := *rep
			r.DOT = ""
			return render(cmd.OutOrStdout(), &r, printPlan)
		},
	}
}

func NewDOTCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dot RULES",
		Short: "Print the predicate/policy graph in Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := analyze(cmd, args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), rep.DOT)
			return err
		},
	}
}

func NewMatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "match RULES PATH...",
		Short: "Tell which predicates accept each path",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			src, err := readRules(cmd, args[0])
			if err != nil {
				return err
			}
			matches, err := svc.Match(src, args[1:])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), matches, func(w io.Writer, ms []app.PathMatch) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PATH\tACCEPTED\tPREFIX OF")
				for _, m := range ms {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Path, ints(m.Accepted), ints(m.Prefix))
				}
				return tw.Flush()
			})
		},
	}
}

func analyze(cmd *cobra.Command, path string) (*app.Report, error) {
	svc, err := newService()
	if err != nil {
		return nil, err
	}
	src, err := readRules(cmd, path)
	if err != nil {
		return nil, err
	}
	rep, err := svc.Analyze(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ctxlog.FromContext(cmd.Context()).Debug("rules compiled", "path", path, "predicates", len(rep.Predicates), "policies", len(rep.Policies))
	return rep, nil
}

// render writes v as json or yaml when -o asks for it, and with human
// otherwise.
func render[T any](w io.Writer, v T, human func(io.Writer, T) error) error {
	switch opts.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "":
		return human(w, v)
	}
	return fmt.Errorf("unknown output format %q", opts.output)
}

func printPlan(w io.Writer, r *app.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PREDICATE\tEXAMPLE\tREADERS\tWRITERS")
	for _, p := range r.Predicates {
		fmt.Fprintf(tw, "e%d\t%s\t%s\t%s\n", p.ID, p.Example, ints(p.Readers), ints(p.Writers))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TIER\tPOLICIES")
	for k, tier := range r.Tiers {
		fmt.Fprintf(tw, "%d\t%s\n", k, ints(tier))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "COMPONENT\tNODE\tPLACEMENT\tPOLICIES")
	for i, c := range r.Components {
		placement := "leader"
		switch {
		case c.Cyclic:
			placement = color.RedString("rejected")
		case c.Local:
			placement = "local"
		}
		node := c.Node
		if node == "" {
			node = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, node, placement, ints(c.Policies))
	}
	return tw.Flush()
}

func ints(xs []int) string {
	if len(xs) == 0 {
		return "-"
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
