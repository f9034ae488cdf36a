package deployer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/kernl-deploy/internal/config"
	"github.com/oshokin/kernl-deploy/internal/logger"
	"github.com/oshokin/kernl-deploy/internal/service/kernl"
)

// fakeKernl is a minimal deployment service.
type fakeKernl struct {
	authStatus   int
	uploadStatus int
	uploads      atomic.Int32
}

func (f *fakeKernl) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth":
		if f.authStatus != http.StatusOK {
			w.WriteHeader(f.authStatus)
			return
		}

		_, _ = io.WriteString(w, "token-1")
	case "/plugins/abc123/versions":
		f.uploads.Add(1)

		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		w.WriteHeader(f.uploadStatus)
		_, _ = io.WriteString(w, `{"ok":true}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type fixture struct {
	fs     afero.Fs
	kernl  *fakeKernl
	server *httptest.Server
	logs   *observer.ObservedLogs
	ctx    context.Context
}

func newFixture(t *testing.T, authStatus, uploadStatus int) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/plugin/kernl.version":  "2.3.1\n",
		"/plugin/changelog.json": `{"2.3.1": {"description": "Fixed bug"}}`,
		"/plugin/a.php":          "<?php",
		"/plugin/sub/b.php":      "<?php",
		"/plugin/output.log":     "log",
	}

	for name, contents := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(contents), 0o644))
	}

	fake := &fakeKernl{authStatus: authStatus, uploadStatus: uploadStatus}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	core, logs := observer.New(zapcore.DebugLevel)

	return &fixture{
		fs:     fs,
		kernl:  fake,
		server: server,
		logs:   logs,
		ctx:    logger.ToContext(context.Background(), zap.New(core).Sugar()),
	}
}

func (f *fixture) options(failOnUploadError bool) *Options {
	return &Options{
		Config: &config.Config{
			PluginID:          "abc123",
			PluginSlug:        "myplugin",
			Username:          "dev@example.com",
			Password:          "secret",
			AuthURL:           f.server.URL + "/auth",
			DeploymentURL:     f.server.URL + "/plugins/",
			SourceDir:         "/plugin",
			FailOnUploadError: failOnUploadError,
		},
		Fs:         f.fs,
		HTTPClient: f.server.Client(),
	}
}

// TestRun_Success deploys the archive and reports its path.
func TestRun_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, http.StatusCreated)

	result, err := Run(f.ctx, f.options(false))
	require.NoError(t, err)
	require.True(t, result.Uploaded)
	require.Equal(t, "/plugin/myplugin.zip", result.ArchivePath)
	require.Equal(t, "2.3.1", result.Release.Version)
	require.Equal(t, "Fixed bug", result.Release.Changelog)
	require.EqualValues(t, 1, f.kernl.uploads.Load())

	exists, err := afero.Exists(f.fs, result.ArchivePath)
	require.NoError(t, err)
	require.True(t, exists)

	require.Equal(t, 1, f.logs.FilterMessage("Deployment service accepted the release").Len())
}

// TestRun_UploadFailureIsLogged keeps the run successful on a failed upload.
func TestRun_UploadFailureIsLogged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, http.StatusInternalServerError)

	result, err := Run(f.ctx, f.options(false))
	require.NoError(t, err)
	require.False(t, result.Uploaded)
	require.Equal(t, "/plugin/myplugin.zip", result.ArchivePath)

	failures := f.logs.FilterMessage("Deployment failed, continuing").All()
	require.Len(t, failures, 1)
	require.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	require.Contains(t, failures[0].ContextMap()["error"], "500")
}

// TestRun_FailOnUploadError turns a failed upload into a failed run.
func TestRun_FailOnUploadError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, http.StatusInternalServerError)

	_, err := Run(f.ctx, f.options(true))
	require.ErrorIs(t, err, kernl.ErrUnexpectedStatus)
}

// TestRun_AuthFailure stops before archiving or uploading.
func TestRun_AuthFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusUnauthorized, http.StatusCreated)

	_, err := Run(f.ctx, f.options(false))
	require.ErrorIs(t, err, kernl.ErrUnexpectedStatus)
	require.Zero(t, f.kernl.uploads.Load())

	exists, err := afero.Exists(f.fs, "/plugin/myplugin.zip")
	require.NoError(t, err)
	require.False(t, exists)
}

// TestRun_MissingMetadata fails the run when the version file is absent.
func TestRun_MissingMetadata(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, http.StatusCreated)
	require.NoError(t, f.fs.Remove("/plugin/kernl.version"))

	_, err := Run(f.ctx, f.options(false))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read release metadata")
	require.Zero(t, f.kernl.uploads.Load())
}

// TestRun_InvalidConfig rejects incomplete settings before any I/O.
func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, http.StatusCreated)
	opts := f.options(false)
	opts.Config.PluginID = ""

	_, err := Run(f.ctx, opts)
	require.ErrorIs(t, err, config.ErrMissingValue)
}
