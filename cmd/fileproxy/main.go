// Command fileproxy serves the /api/file backend. It holds the GitHub token
// so devices in proxy mode never see it.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/umutcrkn/petshop/internal/config"
	"github.com/umutcrkn/petshop/internal/proxysrv"
	"github.com/umutcrkn/petshop/internal/remote/github"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", ".", "directory containing petshop.yaml")
	flag.Parse()

	cfg, err := config.New(*configPath)
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	if cfg.GitHub.Token == "" {
		logger.Fatal("missing github token (github.token or PETSHOP_GITHUB_TOKEN)")
	}

	upstream := github.New(github.Config{
		Owner:   cfg.GitHub.Owner,
		Repo:    cfg.GitHub.Repo,
		Token:   cfg.GitHub.Token,
		Branch:  cfg.GitHub.Branch,
		Timeout: cfg.HTTP.Timeout,
	}, logger)

	e := proxysrv.NewEcho(proxysrv.NewHandler(upstream, cfg.Proxy.APIKey, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(*addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
