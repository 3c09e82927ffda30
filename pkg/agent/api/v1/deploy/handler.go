package api_v1_deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	api_v1 "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/database"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/metrics"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/middleware"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/target"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/release"
)

type DeploymentHandler struct {
	Targets         *target.Table
	Deployer        *release.Deployer
	DeploymentStore database.DeploymentStore
}

type DeploymentResponse struct {
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlationID,omitempty"`
	Out           string `json:"out,omitempty"`
}

func (r *DeploymentResponse) render(w io.Writer) {
	json.NewEncoder(w).Encode(r)
}

func (h *DeploymentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	var deploymentResponse DeploymentResponse

	fields := middleware.RequestLogFields(r)
	logger := log.WithFields(fields)

	requestID, err := uuid.NewRandom()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		deploymentResponse.Message = "unable to generate request id"
		deploymentResponse.render(w)
		logger.Errorf("%s: %s", deploymentResponse.Message, err)
		return
	}

	deploymentResponse.CorrelationID = requestID.String()
	logger = logger.WithField("correlation_id", deploymentResponse.CorrelationID)

	logger.Tracef("Incoming request")

	repository := r.Header.Get(api_v1.RepositoryHeader)
	runID := r.Header.Get(api_v1.RunIDHeader)
	timestamp := r.Header.Get(api_v1.TimestampHeader)
	signature := r.Header.Get(api_v1.SignatureHeader)

	logger = logger.WithFields(log.Fields{
		"repository": repository,
		"run_id":     runID,
	})

	for _, check := range []struct {
		header string
		value  string
	}{
		{api_v1.RepositoryHeader, repository},
		{api_v1.RunIDHeader, runID},
		{api_v1.TimestampHeader, timestamp},
		{api_v1.SignatureHeader, signature},
	} {
		if len(check.value) == 0 {
			metrics.DeployIgnored.Inc()
			w.WriteHeader(http.StatusBadRequest)
			deploymentResponse.Message = fmt.Sprintf("missing request header %s", check.header)
			deploymentResponse.render(w)
			logger.Error(deploymentResponse.Message)
			return
		}
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			metrics.DeployIgnored.Inc()
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			deploymentResponse.Message = fmt.Sprintf("bundle exceeds the maximum size of %d bytes", maxBytesError.Limit)
			deploymentResponse.render(w)
			logger.Error(deploymentResponse.Message)
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
		deploymentResponse.Message = fmt.Sprintf("unable to read request body: %s", err)
		deploymentResponse.render(w)
		logger.Error(deploymentResponse.Message)
		return
	}

	logger.Tracef("Request body read in full")

	tgt, err := h.Targets.Lookup(repository)
	if err != nil {
		metrics.DeployIgnored.Inc()
		w.WriteHeader(http.StatusBadRequest)
		deploymentResponse.Message = fmt.Sprintf("unknown repository %q", repository)
		deploymentResponse.render(w)
		logger.Error(deploymentResponse.Message)
		return
	}

	logger.Tracef("Repository mapped to deployment target")

	// The signature is checked before the timestamp it vouches for:
	// freshness means nothing on a string an attacker may have written.
	err = api_v1.ValidateSignature(tgt.Key, signature, timestamp, repository, runID, api_v1.CanonicalRequest(r.URL), data)
	if err != nil {
		metrics.DeployIgnored.Inc()
		w.WriteHeader(http.StatusForbidden)
		deploymentResponse.Message = api_v1.FailedAuthenticationMsg
		deploymentResponse.render(w)
		logger.Error(err)
		return
	}

	logger.Tracef("HMAC signature validated successfully")

	err = api_v1.Timestamp(timestamp).Validate()
	if err != nil {
		metrics.DeployIgnored.Inc()
		w.WriteHeader(http.StatusForbidden)
		deploymentResponse.Message = fmt.Sprintf("signature expired: %s", err)
		deploymentResponse.render(w)
		logger.Error(deploymentResponse.Message)
		return
	}

	logger.Tracef("Signature timestamp within tolerance")

	err = api_v1.ValidateRunID(runID)
	if err != nil {
		metrics.DeployIgnored.Inc()
		w.WriteHeader(http.StatusBadRequest)
		deploymentResponse.Message = fmt.Sprintf("invalid run id: %s", err)
		deploymentResponse.render(w)
		logger.Error(deploymentResponse.Message)
		return
	}

	// Deployments survive client disconnects: once accepted, the release
	// state machine runs to completion on a detached context.
	ctx := context.WithoutCancel(r.Context())

	h.writeHistory(ctx, logger, database.Deployment{
		ID:         deploymentResponse.CorrelationID,
		Repository: tgt.Repository,
		RunID:      runID,
		State:      database.StateInProgress,
		Created:    time.Now(),
	})

	transcript, err := h.Deployer.Deploy(&release.Operation{
		Context:    ctx,
		Logger:     logger,
		Repository: tgt.Repository,
		RunID:      runID,
		BaseDir:    tgt.BaseDirectory,
		Bundle:     data,
	})
	if err != nil {
		h.finishHistory(ctx, logger, deploymentResponse.CorrelationID, database.StateFailed, err.Error())

		var failure *release.Failure
		if errors.As(err, &failure) {
			switch failure.Stage {
			case release.StageManifest, release.StagePrePublish, release.StagePostPublish:
				w.WriteHeader(http.StatusBadRequest)
				deploymentResponse.Out = transcript.String()
			default:
				w.WriteHeader(http.StatusInternalServerError)
			}
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}

		deploymentResponse.Message = fmt.Sprintf("deployment failed: %s", err)
		deploymentResponse.render(w)
		logger.Error(deploymentResponse.Message)
		return
	}

	h.finishHistory(ctx, logger, deploymentResponse.CorrelationID, database.StateSuccess, "deployment succeeded")

	w.WriteHeader(http.StatusOK)
	deploymentResponse.Message = "deployment succeeded"
	deploymentResponse.Out = transcript.String()
	deploymentResponse.render(w)

	logger.Info("Deployment request processed successfully")
}

// History writes never gate a deployment; a failure costs visibility,
// not availability.
func (h *DeploymentHandler) writeHistory(ctx context.Context, logger *log.Entry, deployment database.Deployment) {
	if h.DeploymentStore == nil {
		return
	}
	err := h.DeploymentStore.WriteDeployment(ctx, deployment)
	if err != nil {
		logger.Warnf("Unable to record deployment in history: %s", err)
	}
}

func (h *DeploymentHandler) finishHistory(ctx context.Context, logger *log.Entry, id, state, message string) {
	if h.DeploymentStore == nil {
		return
	}
	err := h.DeploymentStore.FinishDeployment(ctx, id, state, message)
	if err != nil {
		logger.Warnf("Unable to record deployment outcome in history: %s", err)
	}
}
