package command

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/awmpietro/cloudmake/internal/config"
	"github.com/awmpietro/cloudmake/internal/ctxlog"
	"github.com/awmpietro/cloudmake/internal/daemon"
	"github.com/awmpietro/cloudmake/internal/engine"
	"github.com/awmpietro/cloudmake/internal/metrics"
	"github.com/awmpietro/cloudmake/internal/resource"
)

func NewDaemonCommand() *cobra.Command {
	var (
		manifestPath string
		nodeName     string
		metricsAddr  string
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run one node from a manifest until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := ctxlog.FromContext(ctx)

			m, err := config.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			if nodeName == "" && len(m.Nodes) == 1 {
				nodeName = m.Nodes[0].Name
			}
			node, err := m.Node(nodeName)
			if err != nil {
				return err
			}
			src, err := os.ReadFile(node.Rules)
			if err != nil {
				return err
			}
			mf, _, err := localMakefile(logger, string(src), node.Name)
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			collector := metrics.New()
			collector.MustRegister(registry)
			async := engine.NewAsyncObserver(collector, opts.runtime.ObsBuffer)
			defer async.Close()

			store := resource.Dir(node.Root)
			eng, err := newEngine(cmd, mf, store, node.Root, node.ExitPolicy, async)
			if err != nil {
				return err
			}
			d := daemon.New(node.Name, eng, store, daemon.LogPublisher{Logger: logger},
				daemon.WithLogger(logger),
				daemon.WithBuildObserver(collector),
			)

			var watcher *daemon.Watcher
			if node.Watch {
				if watcher, err = daemon.NewWatcher(node.Root, logger); err != nil {
					return err
				}
				defer watcher.Close()
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ignoreCancel(d.Run(ctx)) })

			g.Go(func() error {
				var events []daemon.Event
				for _, f := range node.ConfigFiles {
					events = append(events, daemon.NewConfig(f))
				}
				for _, f := range node.CloudMakeConfigFiles {
					events = append(events, daemon.NewCloudMakeConfig(f))
				}
				seeds := node.Seed
				if len(seeds) == 0 {
					seeds = []string{""}
				}
				for _, s := range seeds {
					events = append(events, daemon.Touch(s))
				}
				for _, ev := range events {
					if err := d.Submit(ctx, ev); err != nil {
						return ignoreCancel(err)
					}
				}
				return nil
			})

			if watcher != nil {
				g.Go(func() error { return ignoreCancel(watcher.Run(ctx, d)) })
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					logger.Info("serving metrics", "addr", metricsAddr)
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdown)
				})
			}

			logger.Info("node started", "node", node.Name, "root", node.Root, "policies", mf.NumPolicies())
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "cloudmake.hcl", "Node manifest (HCL)")
	cmd.Flags().StringVar(&nodeName, "node", "", "Node to run (default: the only node in the manifest)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, daemon.ErrStopped) {
		return nil
	}
	return err
}
