package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/awmpietro/cloudmake/internal/app"
	"github.com/awmpietro/cloudmake/internal/cache"
	"github.com/awmpietro/cloudmake/internal/cloudmake"
	"github.com/awmpietro/cloudmake/internal/config"
	"github.com/awmpietro/cloudmake/internal/ctxlog"
	"github.com/awmpietro/cloudmake/internal/metrics"
	"github.com/awmpietro/cloudmake/internal/transport/httptransport"
)

func main() {
	cfg, err := config.Load(os.Getenv("CLOUDMAKE_CONFIG"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	level, err := ctxlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := ctxlog.New(os.Stderr, level, cfg.LogFormat)

	c, err := cache.NewLRU[*app.Analysis](cfg.CacheMaxItems)
	if err != nil {
		logger.Error("create cache", "error", err)
		os.Exit(1)
	}
	registry := prometheus.NewRegistry()
	collector := metrics.New()
	collector.MustRegister(registry)

	svc := app.NewService(cloudmake.NewCompiler(), c, collector)
	h := httptransport.NewHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", h.Analyze)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}
