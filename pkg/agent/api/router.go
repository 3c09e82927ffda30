package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	chi_middleware "github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"

	api_v1_deploy "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1/deploy"
	api_v1_deployments "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1/deployments"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/database"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/metrics"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/middleware"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/target"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/release"
)

var requestTimeout = time.Second * 10

type Config struct {
	Deployer        *release.Deployer
	DeploymentStore database.DeploymentStore
	MaxBundleSize   int64
	MetricsPath     string
	Targets         *target.Table
}

func New(cfg Config) chi.Router {
	prometheusMiddleware := middleware.PrometheusMiddleware("deploy-agent")

	deploymentHandler := &api_v1_deploy.DeploymentHandler{
		Targets:         cfg.Targets,
		Deployer:        cfg.Deployer,
		DeploymentStore: cfg.DeploymentStore,
	}

	deploymentsHandler := &api_v1_deployments.Handler{
		Targets:         cfg.Targets,
		DeploymentStore: cfg.DeploymentStore,
	}

	// Pre-populate request metrics
	for _, code := range api_v1_deploy.StatusCodes {
		prometheusMiddleware.Initialize("/api/v1/deploy", http.MethodPost, code)
	}

	// Base settings for all requests
	router := chi.NewRouter()
	router.Use(
		middleware.RequestLogger(),
		prometheusMiddleware.Handler(),
		chi_middleware.StripSlashes,
	)

	// Mount /metrics endpoint with no authentication
	router.Get(cfg.MetricsPath, metrics.Handler().ServeHTTP)

	// Liveness probe
	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/deploy", func(r chi.Router) {
			r.Use(
				chi_middleware.AllowContentType("application/zip", "application/octet-stream"),
				bundleSizeLimit(cfg.MaxBundleSize),
			)
			r.Post("/", deploymentHandler.ServeHTTP)
		})

		if cfg.DeploymentStore == nil {
			log.Error("Deployment history is disabled; configure --database-path to enable it")
			log.Error("Note: /api/v1/deployments will be unavailable")
		} else {
			r.Route("/deployments", func(r chi.Router) {
				r.Use(chi_middleware.Timeout(requestTimeout))
				r.Get("/", deploymentsHandler.Deployments)
				r.Get("/*", deploymentsHandler.Deployments)
			})
		}
	})

	return router
}

// bundleSizeLimit caps the request body before the deploy handler
// buffers it. Exceeding the limit surfaces as http.MaxBytesError from
// the handler's read.
func bundleSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
