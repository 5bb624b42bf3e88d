package main

import (
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/awmpietro/cloudmake/internal/app"
	"github.com/awmpietro/cloudmake/internal/cache"
	"github.com/awmpietro/cloudmake/internal/cloudmake"
	"github.com/awmpietro/cloudmake/internal/config"
	"github.com/awmpietro/cloudmake/internal/ctxlog"
	"github.com/awmpietro/cloudmake/internal/transport/lambdatransport"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	level, err := ctxlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := ctxlog.New(os.Stderr, level, "json")
	slog.SetDefault(logger)

	c, err := cache.NewLRU[*app.Analysis](cfg.CacheMaxItems)
	if err != nil {
		logger.Error("create cache", "error", err)
		os.Exit(1)
	}

	svc := app.NewService(cloudmake.NewCompiler(), c, nil)
	h := lambdatransport.NewHandler(svc)

	lambda.Start(h.Analyze)
}
