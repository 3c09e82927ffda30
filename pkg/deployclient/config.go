package deployclient

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	api_v1 "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1"
)

type Config struct {
	APIKey                    string
	Actions                   bool
	BundleFile                string
	DeployServerURL           string
	DryRun                    bool
	OpenTelemetryCollectorURL string
	Quiet                     bool
	Repository                string
	Retry                     bool
	RetryInterval             time.Duration
	RunID                     string
	Timeout                   time.Duration
}

func InitConfig(cfg *Config) {
	flag.StringVar(&cfg.APIKey, "apikey", os.Getenv("APIKEY"), "Pre-shared deploy key as a hex encoded string. (env APIKEY)")
	flag.BoolVar(&cfg.Actions, "actions", getEnvBool("ACTIONS", false), "Use GitHub Actions compatible error and warning messages. (env ACTIONS)")
	flag.StringVar(&cfg.BundleFile, "bundle", os.Getenv("BUNDLE"), "Zip archive with the release to deploy. (env BUNDLE)")
	flag.StringVar(&cfg.DeployServerURL, "deploy-server", getEnv("DEPLOY_SERVER", DefaultDeployServer), "URL to deployment agent. (env DEPLOY_SERVER)")
	flag.BoolVar(&cfg.DryRun, "dry-run", getEnvBool("DRY_RUN", false), "Validate and sign the request, but don't actually send it. (env DRY_RUN)")
	flag.StringVar(&cfg.OpenTelemetryCollectorURL, "otel-collector-endpoint", os.Getenv("OTEL_COLLECTOR_ENDPOINT"), "OpenTelemetry collector endpoint. (env OTEL_COLLECTOR_ENDPOINT)")
	flag.BoolVar(&cfg.Quiet, "quiet", getEnvBool("QUIET", false), "Suppress printing of informational messages except errors. (env QUIET)")
	flag.StringVar(&cfg.Repository, "repository", getEnv("REPOSITORY", os.Getenv("GITHUB_REPOSITORY")), "Repository the bundle was built from, e.g. acme/website. (env REPOSITORY)")
	flag.BoolVar(&cfg.Retry, "retry", getEnvBool("RETRY", true), "Retry deploy when encountering transient errors. (env RETRY)")
	flag.StringVar(&cfg.RunID, "run-id", getEnv("RUN_ID", os.Getenv("GITHUB_RUN_ID")), "Identifier of the CI run producing the bundle. Generated if not specified. (env RUN_ID)")
	flag.DurationVar(&cfg.Timeout, "timeout", getEnvDuration("TIMEOUT", DefaultDeployTimeout), "Time to wait for successful deployment. (env TIMEOUT)")

	flag.Parse()
}

// NewConfig returns default values as Config.
// Values will be resolved with the following precedence: flags > environment variables > default values.
func NewConfig() *Config {
	return &Config{
		RetryInterval: time.Second * 5,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
	}
	return fallback
}

func getEnvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}

	return b
}

func (cfg *Config) Validate() error {
	if len(cfg.BundleFile) == 0 {
		return ErrBundleRequired
	}

	if len(cfg.Repository) == 0 {
		return ErrRepositoryRequired
	}

	if len(cfg.APIKey) == 0 {
		return ErrAuthRequired
	}

	if _, err := hex.DecodeString(cfg.APIKey); err != nil {
		return ErrMalformedAPIKey
	}

	if len(cfg.RunID) > 0 {
		if err := api_v1.ValidateRunID(cfg.RunID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRunID, err)
		}
	}

	return nil
}
