package command

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/awmpietro/cloudmake/internal/app"
	"github.com/awmpietro/cloudmake/internal/cache"
	"github.com/awmpietro/cloudmake/internal/cloudmake"
	"github.com/awmpietro/cloudmake/internal/config"
	"github.com/awmpietro/cloudmake/internal/ctxlog"
)

// Version is set at build time.
var Version = "dev"

type globals struct {
	configFile string
	logLevel   string
	logFormat  string
	output     string
	runtime    config.Runtime
}

var opts = &globals{}

func NewRootCommand() *cobra.Command {
	opts = &globals{}
	cmd := &cobra.Command{
		Use:   "cloudmake",
		Short: "Compile CloudMakefiles and keep node configuration up to date",
		Long: color.CyanString("Usage: cloudmake [global options] <subcommand> [args]") + "\n\n" +
			"cloudmake compiles rule files into disjoint resource predicates, orders\n" +
			"the policies that read and write them, and re-runs exactly the policies\n" +
			"affected when a resource changes.\n",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				rt.LogLevel = opts.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				rt.LogFormat = opts.logFormat
			}
			level, err := ctxlog.ParseLevel(rt.LogLevel)
			if err != nil {
				return err
			}
			opts.runtime = rt
			logger := ctxlog.New(cmd.ErrOrStderr(), level, rt.LogFormat)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				_ = cmd.Help()
			}
		},
	}

	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		color.NoColor = true
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Runtime config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level. One of: (debug | info | warn | error | silent)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "human", "Log format. One of: (human | text | json)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "", "Output format. One of: (json | yaml)")
	return cmd
}

// AddCommands registers all subcommands to the root command.
func AddCommands(root *cobra.Command) {
	root.AddCommand(
		NewCheckCommand(),
		NewPlanCommand(),
		NewDOTCommand(),
		NewMatchCommand(),
		NewRunCommand(),
		NewDaemonCommand(),
	)
}

func readRules(cmd *cobra.Command, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read rules: %w", err)
	}
	return string(b), nil
}

func newService() (*app.Service, error) {
	c, err := cache.NewLRU[*app.Analysis](opts.runtime.CacheMaxItems)
	if err != nil {
		return nil, err
	}
	return app.NewService(cloudmake.NewCompiler(), c, nil), nil
}
