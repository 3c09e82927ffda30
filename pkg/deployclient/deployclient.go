package deployclient

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	ocodes "go.opentelemetry.io/otel/codes"

	api_v1 "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/telemetry"
)

const (
	DefaultDeployServer  = "http://localhost:8080"
	DefaultDeployTimeout = time.Minute * 15
)

var (
	ErrBundleRequired     = errors.New("a bundle file is required to make sense of the deployment")
	ErrRepositoryRequired = errors.New("repository required")
	ErrAuthRequired       = errors.New("API key required")
	ErrMalformedAPIKey    = errors.New("API key must be a hex encoded string")
	ErrInvalidRunID       = errors.New("malformed run id")
)

type Deployer struct {
	Client *http.Client
}

type DeploymentRequest struct {
	Repository string
	RunID      string
	Bundle     []byte
}

// DeploymentResponse mirrors the agent's reply on /api/v1/deploy.
type DeploymentResponse struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlationID"`
	Out           string `json:"out"`
}

func Prepare(cfg *Config) (*DeploymentRequest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, ErrorWrap(ExitInvocationFailure, err)
	}

	bundle, err := os.ReadFile(cfg.BundleFile)
	if err != nil {
		return nil, Errorf(ExitInvocationFailure, "read bundle: %s", err)
	}

	// Catch packaging mistakes before anything is signed and sent.
	if _, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle))); err != nil {
		return nil, Errorf(ExitInvocationFailure, "bundle %s is not a zip archive: %s", cfg.BundleFile, err)
	}

	if len(cfg.RunID) == 0 {
		runID, err := uuid.NewRandom()
		if err != nil {
			return nil, ErrorWrap(ExitInternalError, err)
		}
		cfg.RunID = runID.String()
		log.Infof("Run id not explicitly specified; generated '%s'", cfg.RunID)
	}

	return &DeploymentRequest{
		Repository: cfg.Repository,
		RunID:      cfg.RunID,
		Bundle:     bundle,
	}, nil
}

func (d *Deployer) Deploy(ctx context.Context, cfg *Config, request *DeploymentRequest) error {
	// Root span for tracing.
	// All sub-spans must be created from this context.
	ctx, span := telemetry.Tracer().Start(ctx, "Send deploy request and wait for completion")
	defer span.End()

	key, err := hex.DecodeString(cfg.APIKey)
	if err != nil {
		return ErrorWrap(ExitInvocationFailure, ErrMalformedAPIKey)
	}

	deployURL := strings.TrimSuffix(cfg.DeployServerURL, "/") + "/api/v1/deploy"

	log.Infof("Sending deployment request to %s...", deployURL)

	send := func() (*http.Response, error) {
		requestContext, requestSpan := telemetry.Tracer().Start(ctx, "Waiting for deploy server")
		defer requestSpan.End()

		httpRequest, err := http.NewRequestWithContext(requestContext, http.MethodPost, deployURL, bytes.NewReader(request.Bundle))
		if err != nil {
			return nil, ErrorWrap(ExitInvocationFailure, err)
		}

		// The signature vouches for the timestamp it embeds, so every attempt needs a fresh one.
		timestamp := time.Now().Format(time.RFC3339)
		httpRequest.Header.Set("Content-Type", "application/zip")
		httpRequest.Header.Set(api_v1.RepositoryHeader, request.Repository)
		httpRequest.Header.Set(api_v1.RunIDHeader, request.RunID)
		httpRequest.Header.Set(api_v1.TimestampHeader, timestamp)
		httpRequest.Header.Set(api_v1.SignatureHeader, api_v1.Sign(key, timestamp, request.Repository, request.RunID, api_v1.CanonicalRequest(httpRequest.URL), request.Bundle))

		httpResponse, err := d.Client.Do(httpRequest)
		if err != nil {
			requestSpan.SetStatus(ocodes.Error, err.Error())
		}
		return httpResponse, err
	}

	var httpResponse *http.Response
	for {
		httpResponse, err = send()
		if err == nil && !retriableStatus(httpResponse.StatusCode) {
			break
		}

		if err == nil {
			// A retriable status comes from infrastructure in front of the
			// agent; its body carries no transcript.
			_, _ = io.Copy(io.Discard, httpResponse.Body)
			_ = httpResponse.Body.Close()
			err = fmt.Errorf("deploy server unavailable: %s", httpResponse.Status)
		}

		if ctx.Err() != nil {
			span.SetStatus(ocodes.Error, ctx.Err().Error())
			return Errorf(ExitTimeout, "deployment timed out: %s", ctx.Err())
		}

		var invocationError *Error
		if errors.As(err, &invocationError) {
			span.SetStatus(ocodes.Error, err.Error())
			return err
		}

		if !cfg.Retry {
			span.SetStatus(ocodes.Error, err.Error())
			span.RecordError(err)
			return ErrorWrap(ExitUnavailable, err)
		}

		log.Warnf("%s (retrying in %s...)", err, cfg.RetryInterval)
		time.Sleep(cfg.RetryInterval)
	}
	defer httpResponse.Body.Close()

	deploymentResponse := &DeploymentResponse{}
	if err := json.NewDecoder(httpResponse.Body).Decode(deploymentResponse); err != nil {
		span.SetStatus(ocodes.Error, err.Error())
		return Errorf(ExitInternalError, "malformed response from deploy server (%s): %s", httpResponse.Status, err)
	}

	// Print information to standard output
	log.Infof("Deployment information:")
	log.Infof("---")
	log.Infof("repository.......: %s", request.Repository)
	log.Infof("run id...........: %s", request.RunID)
	log.Infof("correlation id...: %s", deploymentResponse.CorrelationID)
	log.Info("---")

	logTranscript(deploymentResponse.Out)

	switch httpResponse.StatusCode {
	case http.StatusOK:
		log.Infof("Deployment successful: %s", deploymentResponse.Message)
		return nil
	case http.StatusForbidden:
		err = fmt.Errorf("%s", deploymentResponse.Message)
		span.SetStatus(ocodes.Error, err.Error())
		return ErrorWrap(ExitNoDeployment, err)
	default:
		err = fmt.Errorf("%s", deploymentResponse.Message)
		span.SetStatus(ocodes.Error, err.Error())
		return ErrorWrap(ExitDeploymentFailure, err)
	}
}

func logTranscript(out string) {
	if len(out) == 0 {
		return
	}
	log.Infof("Remote command transcript:")
	for _, line := range strings.Split(out, "\n") {
		log.Infof("  %s", line)
	}
}

func retriableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
