package config

import (
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DASPRiD/webhook-deploy-agent/pkg/conftools"
)

type Config struct {
	AllowedHookCommands []string      `json:"allowed-hook-commands"`
	DatabasePath        string        `json:"database-path"`
	HookTimeout         time.Duration `json:"hook-timeout"`
	ListenAddress       string        `json:"listen-address"`
	LogFormat           string        `json:"log-format"`
	LogLevel            string        `json:"log-level"`
	MaxBundleSize       int64         `json:"max-bundle-size"`
	MetricsPath         string        `json:"metrics-path"`
	OtelCollectorURL    string        `json:"otel-collector-endpoint"`
	TargetsFile         string        `json:"targets-file"`
}

const (
	AllowedHookCommands   = "allowed-hook-commands"
	DatabasePath          = "database-path"
	HookTimeout           = "hook-timeout"
	ListenAddress         = "listen-address"
	LogFormat             = "log-format"
	LogLevel              = "log-level"
	MaxBundleSize         = "max-bundle-size"
	MetricsPath           = "metrics-path"
	OtelCollectorEndpoint = "otel-collector-endpoint"
	TargetsFile           = "targets-file"
)

// Bind environment variables shared with other OpenTelemetry tooling
func bindOtel() {
	viper.BindEnv(OtelCollectorEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func Initialize() *Config {
	conftools.Initialize("deploy-agent")
	bindOtel()

	// Provide command-line flags
	flag.String(ListenAddress, "127.0.0.1:8080", "IP:PORT")
	flag.String(LogFormat, "text", "Log format, either 'json' or 'text'.")
	flag.String(LogLevel, "debug", "Logging verbosity level.")
	flag.String(MetricsPath, "/metrics", "HTTP endpoint for exposed metrics.")

	flag.String(TargetsFile, "targets.yml", "File declaring the deployment targets and their keys.")
	flag.String(DatabasePath, "deploy-agent.db", "SQLite file holding the deployment history.")

	flag.Duration(HookTimeout, 10*time.Minute, "Maximum run time of a single publish hook command.")
	flag.Int64(MaxBundleSize, 512*1024*1024, "Largest acceptable bundle upload, in bytes.")
	flag.StringSlice(AllowedHookCommands, nil, "Binaries that publish hooks may invoke, comma separated. Empty allows any.")

	flag.String(OtelCollectorEndpoint, "", "OpenTelemetry collector endpoint URL. Empty disables tracing.")

	return &Config{}
}
