package deployclient_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api_v1 "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/deployclient"
)

const repository = "acme/website"

var secretKey = api_v1.Key{0x01, 0x02, 0x03, 0x04}

func writeBundle(t *testing.T) string {
	t.Helper()

	buf := &bytes.Buffer{}
	writer := zip.NewWriter(buf)
	entry, err := writer.Create("index.html")
	require.NoError(t, err)
	_, err = entry.Write([]byte("<html/>"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	return path
}

func validConfig(t *testing.T) *deployclient.Config {
	cfg := deployclient.NewConfig()
	cfg.APIKey = secretKey.String()
	cfg.BundleFile = writeBundle(t)
	cfg.Repository = repository
	cfg.Retry = true
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.RunID = "run-1"
	cfg.Timeout = time.Minute
	return cfg
}

// agentStub verifies the signed request the same way the agent does before
// answering with a canned response.
func agentStub(t *testing.T, statusCode int, response deployclient.DeploymentResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/deploy", r.URL.Path)
		assert.Equal(t, "application/zip", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		err = api_v1.ValidateSignature(
			secretKey,
			r.Header.Get(api_v1.SignatureHeader),
			r.Header.Get(api_v1.TimestampHeader),
			r.Header.Get(api_v1.RepositoryHeader),
			r.Header.Get(api_v1.RunIDHeader),
			api_v1.CanonicalRequest(r.URL),
			body,
		)
		assert.NoError(t, err)
		assert.NoError(t, api_v1.Timestamp(r.Header.Get(api_v1.TimestampHeader)).Validate())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func respondWith(statusCode int, response deployclient.DeploymentResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func TestPrepare(t *testing.T) {
	cfg := validConfig(t)

	request, err := deployclient.Prepare(cfg)

	require.NoError(t, err)
	assert.Equal(t, repository, request.Repository)
	assert.Equal(t, "run-1", request.RunID)
	assert.NotEmpty(t, request.Bundle)
}

func TestPrepareGeneratesRunID(t *testing.T) {
	cfg := validConfig(t)
	cfg.RunID = ""

	request, err := deployclient.Prepare(cfg)

	require.NoError(t, err)
	assert.NotEmpty(t, request.RunID)
	assert.NoError(t, api_v1.ValidateRunID(request.RunID))
}

func TestPrepareInvalidConfig(t *testing.T) {
	for _, test := range []struct {
		name   string
		mutate func(cfg *deployclient.Config)
		err    error
	}{
		{
			name:   "missing bundle",
			mutate: func(cfg *deployclient.Config) { cfg.BundleFile = "" },
			err:    deployclient.ErrBundleRequired,
		},
		{
			name:   "missing repository",
			mutate: func(cfg *deployclient.Config) { cfg.Repository = "" },
			err:    deployclient.ErrRepositoryRequired,
		},
		{
			name:   "missing api key",
			mutate: func(cfg *deployclient.Config) { cfg.APIKey = "" },
			err:    deployclient.ErrAuthRequired,
		},
		{
			name:   "malformed api key",
			mutate: func(cfg *deployclient.Config) { cfg.APIKey = "not hexadecimal" },
			err:    deployclient.ErrMalformedAPIKey,
		},
		{
			name:   "malformed run id",
			mutate: func(cfg *deployclient.Config) { cfg.RunID = "no spaces allowed" },
			err:    deployclient.ErrInvalidRunID,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig(t)
			test.mutate(cfg)

			request, err := deployclient.Prepare(cfg)

			assert.Nil(t, request)
			assert.ErrorIs(t, err, test.err)
			assert.Equal(t, deployclient.ExitInvocationFailure, deployclient.ErrorExitCode(err))
		})
	}
}

func TestPrepareRejectsNonZipBundle(t *testing.T) {
	cfg := validConfig(t)
	cfg.BundleFile = filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(cfg.BundleFile, []byte("tarball, actually"), 0o644))

	request, err := deployclient.Prepare(cfg)

	assert.Nil(t, request)
	assert.Error(t, err)
	assert.Equal(t, deployclient.ExitInvocationFailure, deployclient.ErrorExitCode(err))
}

func TestPrepareMissingBundleFile(t *testing.T) {
	cfg := validConfig(t)
	cfg.BundleFile = filepath.Join(t.TempDir(), "nothing-here.zip")

	request, err := deployclient.Prepare(cfg)

	assert.Nil(t, request)
	assert.Equal(t, deployclient.ExitInvocationFailure, deployclient.ErrorExitCode(err))
}

func TestSuccessfulDeploy(t *testing.T) {
	cfg := validConfig(t)
	request, err := deployclient.Prepare(cfg)
	require.NoError(t, err)

	server := httptest.NewServer(agentStub(t, http.StatusOK, deployclient.DeploymentResponse{
		Message:       "deployment succeeded",
		CorrelationID: "50cc02e9-dba8-4bff-b0a7-85fab902f8d6",
		Out:           "$ echo hello\n> hello",
	}))
	defer server.Close()
	cfg.DeployServerURL = server.URL

	d := deployclient.Deployer{Client: server.Client()}
	err = d.Deploy(context.Background(), cfg, request)

	assert.NoError(t, err)
	assert.Equal(t, deployclient.ExitSuccess, deployclient.ErrorExitCode(err))
}

func TestDeployAuthenticationFailure(t *testing.T) {
	cfg := validConfig(t)
	request, err := deployclient.Prepare(cfg)
	require.NoError(t, err)

	server := httptest.NewServer(respondWith(http.StatusForbidden, deployclient.DeploymentResponse{
		Message: "failed authentication",
	}))
	defer server.Close()
	cfg.DeployServerURL = server.URL

	d := deployclient.Deployer{Client: server.Client()}
	err = d.Deploy(context.Background(), cfg, request)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed authentication")
	assert.Equal(t, deployclient.ExitNoDeployment, deployclient.ErrorExitCode(err))
}

func TestDeployFailure(t *testing.T) {
	cfg := validConfig(t)
	request, err := deployclient.Prepare(cfg)
	require.NoError(t, err)

	server := httptest.NewServer(respondWith(http.StatusBadRequest, deployclient.DeploymentResponse{
		Message: "deployment failed: pre-publish hook: exit status 1",
		Out:     "$ false\n! exit status 1",
	}))
	defer server.Close()
	cfg.DeployServerURL = server.URL

	d := deployclient.Deployer{Client: server.Client()}
	err = d.Deploy(context.Background(), cfg, request)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pre-publish hook")
	assert.Equal(t, deployclient.ExitDeploymentFailure, deployclient.ErrorExitCode(err))
}

func TestDeployRetriesUntilAvailable(t *testing.T) {
	cfg := validConfig(t)
	request, err := deployclient.Prepare(cfg)
	require.NoError(t, err)

	var attempts int32
	success := agentStub(t, http.StatusOK, deployclient.DeploymentResponse{Message: "deployment succeeded"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		success(w, r)
	}))
	defer server.Close()
	cfg.DeployServerURL = server.URL

	d := deployclient.Deployer{Client: server.Client()}
	err = d.Deploy(context.Background(), cfg, request)

	assert.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDeployGivesUpWithoutRetry(t *testing.T) {
	cfg := validConfig(t)
	cfg.Retry = false
	request, err := deployclient.Prepare(cfg)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	cfg.DeployServerURL = server.URL

	d := deployclient.Deployer{Client: server.Client()}
	err = d.Deploy(context.Background(), cfg, request)

	assert.Error(t, err)
	assert.Equal(t, deployclient.ExitUnavailable, deployclient.ErrorExitCode(err))
}

func TestDeployUnreachableServer(t *testing.T) {
	cfg := validConfig(t)
	cfg.Retry = false
	cfg.DeployServerURL = "http://127.0.0.1:1"
	request, err := deployclient.Prepare(cfg)
	require.NoError(t, err)

	d := deployclient.Deployer{Client: http.DefaultClient}
	err = d.Deploy(context.Background(), cfg, request)

	assert.Error(t, err)
	assert.Equal(t, deployclient.ExitUnavailable, deployclient.ErrorExitCode(err))
}

func TestDeployTimeout(t *testing.T) {
	cfg := validConfig(t)
	request, err := deployclient.Prepare(cfg)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()
	cfg.DeployServerURL = server.URL

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d := deployclient.Deployer{Client: server.Client()}
	err = d.Deploy(ctx, cfg, request)

	assert.Error(t, err)
	assert.Equal(t, deployclient.ExitTimeout, deployclient.ErrorExitCode(err))
}
