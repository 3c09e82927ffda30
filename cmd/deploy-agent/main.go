package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/config"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/database"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/target"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/command"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/conftools"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/logging"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/release"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/telemetry"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/version"
)

// The pre-shared deploy keys live in the targets file rather than in the
// configuration, so nothing needs masking here.
var maskedConfig []string

func run() error {
	cfg := config.Initialize()
	err := conftools.Load(cfg)
	if err != nil {
		return err
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	// Welcome
	log.Infof("deploy-agent %s", version.Version())
	ts, err := version.BuildTime()
	if err == nil {
		log.Infof("This version was built %s", ts.Local())
	}

	for _, line := range conftools.Format(maskedConfig) {
		log.Info(line)
	}

	if len(cfg.OtelCollectorURL) > 0 {
		tracerProvider, err := telemetry.New(context.Background(), "deploy-agent", cfg.OtelCollectorURL)
		if err != nil {
			return fmt.Errorf("set up telemetry: %w", err)
		}
		defer func() {
			err := tracerProvider.Shutdown(context.Background())
			if err != nil {
				log.Error(err)
			}
		}()
	}

	targets, err := target.Load(cfg.TargetsFile)
	if err != nil {
		return fmt.Errorf("load deployment targets: %w", err)
	}
	log.Infof("Serving deployments for %d target(s) from %s", targets.Len(), cfg.TargetsFile)

	apiConfig := api.Config{
		MaxBundleSize: cfg.MaxBundleSize,
		MetricsPath:   cfg.MetricsPath,
		Targets:       targets,
		Deployer: release.NewDeployer(&command.Runner{
			Timeout: cfg.HookTimeout,
			Policy:  &command.Policy{Allowed: cfg.AllowedHookCommands},
		}),
	}

	if len(cfg.DatabasePath) > 0 {
		db, err := database.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open deployment history database: %w", err)
		}
		defer db.Close()

		err = db.Migrate(context.Background())
		if err != nil {
			return fmt.Errorf("migrating database: %s", err)
		}

		log.Infof("Deployment history kept in %s", cfg.DatabasePath)
		apiConfig.DeploymentStore = db
	}

	router := api.New(apiConfig)

	go func() {
		err := http.ListenAndServe(cfg.ListenAddress, router)
		if err != nil {
			log.Error(err)
		}
	}()

	log.Infof("Ready to accept connections")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals

	log.Infof("Received signal %s (%d), exiting...", sig, sig)

	return nil
}

func main() {
	err := run()
	if err != nil {
		log.Errorf("Fatal error: %s", err)
		os.Exit(1)
	}
}
