package main

import (
	"context"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/DASPRiD/webhook-deploy-agent/pkg/deployclient"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/telemetry"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/version"
)

func main() {
	err := run()
	if err == nil {
		return
	}
	code := deployclient.ErrorExitCode(err)
	if code == deployclient.ExitInvocationFailure {
		flag.Usage()
	}
	log.Errorf("fatal: %s", err)
	os.Exit(int(code))
}

func run() error {
	// Configuration and context
	cfg := deployclient.NewConfig()
	deployclient.InitConfig(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	// Logging
	deployclient.SetupLogging(*cfg)

	// Welcome
	log.Infof("deploy %s", version.Version())
	ts, err := version.BuildTime()
	if err == nil {
		log.Infof("This version was built %s", ts.Local())
	}

	// Tracing
	if len(cfg.OpenTelemetryCollectorURL) > 0 {
		tracerProvider, err := telemetry.New(ctx, "deploy", cfg.OpenTelemetryCollectorURL)
		if err != nil {
			return deployclient.ErrorWrap(deployclient.ExitInvocationFailure, err)
		}
		defer func() {
			err := tracerProvider.Shutdown(context.Background())
			if err != nil {
				log.Error(err)
			}
		}()
	}

	// Prepare request
	request, err := deployclient.Prepare(cfg)
	if err != nil {
		return err
	}

	d := deployclient.Deployer{
		Client: http.DefaultClient,
	}

	if cfg.DryRun {
		log.Infof("Dry run; would deploy %s to %s", cfg.BundleFile, cfg.DeployServerURL)
		return nil
	}

	return d.Deploy(ctx, cfg, request)
}
