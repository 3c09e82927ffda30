package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "deployment"
	subsystem = "agent"

	LabelRepository = "repository"
	LabelStage      = "stage"
)

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name:      name,
		Help:      help,
		Namespace: namespace,
		Subsystem: subsystem,
	})
}

var (
	DeploySuccessful = counter("deploy_successful", "number of successful deployments")
	DeployIgnored    = counter("deploy_ignored", "number of deployments rejected before any filesystem change")

	deployFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "deploy_failed",
		Help:      "number of failed deployments, partitioned by the stage that failed",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			LabelStage,
		},
	)

	deployDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "deploy_duration_seconds",
		Help:      "time from authenticated request until the deployment finished",
		Namespace: namespace,
		Subsystem: subsystem,
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	},
		[]string{
			LabelRepository,
		},
	)

	releasesCleaned = counter("releases_cleaned", "number of superseded release directories deleted")

	deploysInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "deploys_in_flight",
		Help:      "number of deployments currently executing",
		Namespace: namespace,
		Subsystem: subsystem,
	})
)

// DeployFailed counts a failed deployment against the stage it died in.
func DeployFailed(stage string) {
	deployFailed.With(prometheus.Labels{
		LabelStage: stage,
	}).Inc()
}

func DeployDuration(repository string, started time.Time) {
	deployDuration.With(prometheus.Labels{
		LabelRepository: repository,
	}).Observe(time.Since(started).Seconds())
}

func ReleaseCleaned() {
	releasesCleaned.Inc()
}

// DeployStarted marks a deployment as executing until the returned function
// is called.
func DeployStarted() func() {
	deploysInFlight.Inc()
	return deploysInFlight.Dec
}

func init() {
	prometheus.MustRegister(DeploySuccessful)
	prometheus.MustRegister(DeployIgnored)
	prometheus.MustRegister(deployFailed)
	prometheus.MustRegister(deployDuration)
	prometheus.MustRegister(releasesCleaned)
	prometheus.MustRegister(deploysInFlight)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
