package api_v1_deploy_test

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api"
	api_v1 "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1"
	api_v1_deploy "github.com/DASPRiD/webhook-deploy-agent/pkg/agent/api/v1/deploy"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/database"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/target"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/command"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/release"
)

const repository = "acme/website"

var (
	secretKey = api_v1.Key{0xab, 0xcd, 0xef}
	wrongKey  = api_v1.Key{0xab, 0xcd, 0xee}
)

func makeBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	writer := zip.NewWriter(buf)
	for name, content := range files {
		entry, err := writer.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func newServer(t *testing.T, maxBundleSize int64) (http.Handler, string, *database.Database) {
	t.Helper()

	baseDir := t.TempDir()
	table, err := target.NewTable([]target.Target{{
		Repository:    repository,
		Key:           secretKey,
		BaseDirectory: baseDir,
	}})
	require.NoError(t, err)

	db, err := database.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() {
		db.Close()
	})

	router := api.New(api.Config{
		Deployer:        release.NewDeployer(&command.Runner{Timeout: time.Minute}),
		DeploymentStore: db,
		MaxBundleSize:   maxBundleSize,
		MetricsPath:     "/metrics",
		Targets:         table,
	})

	return router, baseDir, db
}

func signedRequestAt(key api_v1.Key, timestamp, runID string, bundle []byte) *http.Request {
	request := httptest.NewRequest(http.MethodPost, "/api/v1/deploy", bytes.NewReader(bundle))
	request.Header.Set("Content-Type", "application/zip")
	request.Header.Set(api_v1.RepositoryHeader, repository)
	request.Header.Set(api_v1.RunIDHeader, runID)
	request.Header.Set(api_v1.TimestampHeader, timestamp)
	request.Header.Set(api_v1.SignatureHeader, api_v1.Sign(key, timestamp, repository, runID, api_v1.CanonicalRequest(request.URL), bundle))
	return request
}

func signedRequest(runID string, bundle []byte) *http.Request {
	return signedRequestAt(secretKey, time.Now().Format(time.RFC3339), runID, bundle)
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) api_v1_deploy.DeploymentResponse {
	t.Helper()
	decoded := api_v1_deploy.DeploymentResponse{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	return decoded
}

// Test case definitions: requests that must be rejected before any
// filesystem change.
var rejections = []struct {
	Name       string
	Request    func(t *testing.T) *http.Request
	StatusCode int
	Message    string
}{
	{
		Name: "Missing repository header",
		Request: func(t *testing.T) *http.Request {
			request := signedRequest("run-1", makeBundle(t, nil))
			request.Header.Del(api_v1.RepositoryHeader)
			return request
		},
		StatusCode: http.StatusBadRequest,
		Message:    "missing request header " + api_v1.RepositoryHeader,
	},
	{
		Name: "Missing signature header",
		Request: func(t *testing.T) *http.Request {
			request := signedRequest("run-1", makeBundle(t, nil))
			request.Header.Del(api_v1.SignatureHeader)
			return request
		},
		StatusCode: http.StatusBadRequest,
		Message:    "missing request header " + api_v1.SignatureHeader,
	},
	{
		Name: "Unknown repository",
		Request: func(t *testing.T) *http.Request {
			request := signedRequest("run-1", makeBundle(t, nil))
			request.Header.Set(api_v1.RepositoryHeader, "acme/unknown")
			return request
		},
		StatusCode: http.StatusBadRequest,
		Message:    `unknown repository "acme/unknown"`,
	},
	{
		Name: "Garbage signature",
		Request: func(t *testing.T) *http.Request {
			request := signedRequest("run-1", makeBundle(t, nil))
			request.Header.Set(api_v1.SignatureHeader, "abcdef")
			return request
		},
		StatusCode: http.StatusForbidden,
		Message:    api_v1.FailedAuthenticationMsg,
	},
	{
		Name: "Signed with the wrong key",
		Request: func(t *testing.T) *http.Request {
			return signedRequestAt(wrongKey, time.Now().Format(time.RFC3339), "run-1", makeBundle(t, nil))
		},
		StatusCode: http.StatusForbidden,
		Message:    api_v1.FailedAuthenticationMsg,
	},
	{
		Name: "Body swapped after signing",
		Request: func(t *testing.T) *http.Request {
			request := signedRequest("run-1", makeBundle(t, map[string]string{"a": "1"}))
			tampered := makeBundle(t, map[string]string{"a": "2"})
			request.Body = io.NopCloser(bytes.NewReader(tampered))
			request.ContentLength = int64(len(tampered))
			return request
		},
		StatusCode: http.StatusForbidden,
		Message:    api_v1.FailedAuthenticationMsg,
	},
	{
		Name: "Query string not covered by signature",
		Request: func(t *testing.T) *http.Request {
			request := signedRequest("run-1", makeBundle(t, nil))
			request.URL.RawQuery = "sneaky=1"
			return request
		},
		StatusCode: http.StatusForbidden,
		Message:    api_v1.FailedAuthenticationMsg,
	},
	{
		Name: "Stale timestamp",
		Request: func(t *testing.T) *http.Request {
			stale := time.Now().Add(-2 * time.Minute).Format(time.RFC3339)
			return signedRequestAt(secretKey, stale, "run-1", makeBundle(t, nil))
		},
		StatusCode: http.StatusForbidden,
		Message:    "signature expired",
	},
	{
		Name: "Malformed timestamp",
		Request: func(t *testing.T) *http.Request {
			return signedRequestAt(secretKey, "yesterday", "run-1", makeBundle(t, nil))
		},
		StatusCode: http.StatusForbidden,
		Message:    "signature expired",
	},
	{
		Name: "Path traversal in run id",
		Request: func(t *testing.T) *http.Request {
			return signedRequest("..", makeBundle(t, nil))
		},
		StatusCode: http.StatusBadRequest,
		Message:    "invalid run id",
	},
	{
		Name: "Unsupported media type",
		Request: func(t *testing.T) *http.Request {
			request := signedRequest("run-1", makeBundle(t, map[string]string{"a": "1"}))
			request.Header.Set("Content-Type", "text/plain")
			return request
		},
		StatusCode: http.StatusUnsupportedMediaType,
	},
}

func TestDeploymentHandlerRejections(t *testing.T) {
	for _, test := range rejections {
		t.Run(test.Name, func(t *testing.T) {
			router, baseDir, _ := newServer(t, 1024*1024)

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, test.Request(t))

			assert.Equal(t, test.StatusCode, recorder.Code)
			if len(test.Message) > 0 {
				decoded := decodeResponse(t, recorder)
				assert.Contains(t, decoded.Message, test.Message)
				assert.NotEmpty(t, decoded.CorrelationID)
			}

			// rejected requests never touch the target
			entries, err := os.ReadDir(baseDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestDeploymentHandlerBundleTooLarge(t *testing.T) {
	router, baseDir, _ := newServer(t, 64)

	bundle := makeBundle(t, map[string]string{"index.html": "way too much content for this server"})
	require.Greater(t, len(bundle), 64)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, signedRequest("run-1", bundle))

	assert.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
	decoded := decodeResponse(t, recorder)
	assert.Contains(t, decoded.Message, "maximum size")

	entries, err := os.ReadDir(baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeploymentHandlerSuccess(t *testing.T) {
	router, baseDir, db := newServer(t, 1024*1024)

	bundle := makeBundle(t, map[string]string{
		"index.html": "v1",
		release.ManifestFilename: `
prePublish:
  - command: echo preparing
postPublish:
  - command: echo announcing
`,
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, signedRequest("run-1", bundle))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	decoded := decodeResponse(t, recorder)
	assert.Equal(t, "deployment succeeded", decoded.Message)
	assert.Contains(t, decoded.Out, "> preparing")
	assert.Contains(t, decoded.Out, "> announcing")
	assert.NotEmpty(t, decoded.CorrelationID)

	liveTarget, err := os.Readlink(filepath.Join(baseDir, release.CurrentLinkName))
	require.NoError(t, err)
	assert.Equal(t, release.ReleaseDir(baseDir, "run-1"), liveTarget)

	rows, err := db.Deployments(context.Background(), repository, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, decoded.CorrelationID, rows[0].ID)
	assert.Equal(t, "run-1", rows[0].RunID)
	assert.Equal(t, database.StateSuccess, rows[0].State)
	require.NotNil(t, rows[0].Finished)
}

func TestDeploymentHandlerPrePublishFailure(t *testing.T) {
	router, baseDir, db := newServer(t, 1024*1024)

	bundle := makeBundle(t, map[string]string{
		"index.html": "v1",
		release.ManifestFilename: `
prePublish:
  - command: echo starting
  - command: false
`,
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, signedRequest("run-1", bundle))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	decoded := decodeResponse(t, recorder)
	assert.Contains(t, decoded.Message, "pre-publish")
	assert.Contains(t, decoded.Out, "> starting")
	assert.Contains(t, decoded.Out, "! exit status 1")

	// nothing was promoted
	assert.NoFileExists(t, filepath.Join(baseDir, release.CurrentLinkName))

	rows, err := db.Deployments(context.Background(), repository, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, database.StateFailed, rows[0].State)
	assert.Contains(t, rows[0].Message, "pre-publish")
}

func TestDeploymentHandlerBadBundle(t *testing.T) {
	router, baseDir, _ := newServer(t, 1024*1024)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, signedRequest("run-1", []byte("this is not a zip archive")))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	decoded := decodeResponse(t, recorder)
	assert.Contains(t, decoded.Message, "deployment failed")
	assert.Empty(t, decoded.Out)

	assert.NoFileExists(t, filepath.Join(baseDir, release.CurrentLinkName))
}

func TestDeploymentHandlerRepositoryCaseInsensitive(t *testing.T) {
	router, baseDir, _ := newServer(t, 1024*1024)

	bundle := makeBundle(t, map[string]string{"index.html": "v1"})
	timestamp := time.Now().Format(time.RFC3339)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/deploy", bytes.NewReader(bundle))
	request.Header.Set("Content-Type", "application/zip")
	request.Header.Set(api_v1.RepositoryHeader, "ACME/Website")
	request.Header.Set(api_v1.RunIDHeader, "run-1")
	request.Header.Set(api_v1.TimestampHeader, timestamp)
	request.Header.Set(api_v1.SignatureHeader, api_v1.Sign(secretKey, timestamp, "ACME/Website", "run-1", api_v1.CanonicalRequest(request.URL), bundle))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.FileExists(t, filepath.Join(baseDir, release.CurrentLinkName, "index.html"))
}
