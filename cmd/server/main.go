// Package main provides the entry point for the context pruning gateway.
// The server sits between coding agents and their LLM providers, redacting
// tool results that have been marked prunable before requests leave the
// machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/contextgate/contextgate/internal/buildinfo"
	"github.com/contextgate/contextgate/internal/config"
	"github.com/contextgate/contextgate/internal/gateway"
	"github.com/contextgate/contextgate/internal/logging"
	"github.com/contextgate/contextgate/internal/prunelist"
	"github.com/contextgate/contextgate/internal/session"
	"github.com/contextgate/contextgate/internal/strategy"
	"github.com/contextgate/contextgate/internal/tokens"
	"github.com/contextgate/contextgate/internal/toolcache"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var port int
	var showVersion bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.IntVar(&port, "port", 0, "Override the listen port from the configuration")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("contextgate %s, commit %s, built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	manager, err := config.NewManager(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	cfg := manager.Current()
	if port > 0 {
		cfg.Port = port
		manager.Set(cfg)
	}
	logging.Configure(&cfg.Logging)

	log.WithFields(log.Fields{
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
		"built":   buildinfo.BuildDate,
	}).Info("starting context pruning gateway")

	store, err := session.NewStore(cfg.GetStateDir())
	if err != nil {
		log.WithError(err).Fatal("failed to open session state store")
	}
	defer store.Close()

	cache := toolcache.New()
	est := tokens.NewEstimator(cfg.Tokens.GetCharsPerToken())
	engine := strategy.NewEngine(store, cache, est, manager.Current)
	builder := prunelist.NewBuilder(cache, store)
	srv := gateway.New(manager.Current, store, cache, engine, builder, est)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := manager.Watch(ctx); err != nil {
			log.WithError(err).Warn("config watcher stopped")
		}
	}()

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Fatal("gateway server exited")
	}
	log.Info("context pruning gateway stopped")
}
