package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testplatform/runtrackr/pkg/artifacts"
	"github.com/testplatform/runtrackr/pkg/config"
	"github.com/testplatform/runtrackr/pkg/lifecycle"
	"github.com/testplatform/runtrackr/pkg/results"
	"github.com/testplatform/runtrackr/pkg/store"
)

// setupServer builds a server with an in-memory store and a local
// artifacts directory, returning the router and its collaborators.
func setupServer(t *testing.T, cfg *config.Config) (http.Handler, *server) {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{}
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	srv := &server{
		log:   log,
		cfg:   cfg,
		store: st,
	}

	if cfg.Artifacts.Local != nil && cfg.Artifacts.Local.Enabled {
		srv.reader = artifacts.NewLocalReader(cfg.Artifacts.Local)
	}

	srv.aggregator = results.NewAggregator(log, st, srv.reader)

	if cfg.Auth.Enabled {
		require.NoError(t, st.SeedUsers(
			context.Background(), cfg.Auth.Users,
		))
	}

	return srv.buildRouter(), srv
}

func doJSON(
	t *testing.T, router http.Handler, method, path string, body any,
) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func createRunViaAPI(t *testing.T, router http.Handler) *store.Run {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/runs", map[string]any{
		"platform": "linux",
		"kind":     "commit",
		"branch":   "master",
		"commit":   "abc123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	return &run
}

func TestHandleHealth(t *testing.T) {
	router, _ := setupServer(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleCreateRun(t *testing.T) {
	router, _ := setupServer(t, nil)

	t.Run("creates run with token", func(t *testing.T) {
		run := createRunViaAPI(t, router)

		assert.NotZero(t, run.ID)
		assert.Len(t, run.Token, 64)
		assert.Equal(t, "linux", run.Platform)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/runs", map[string]any{
			"platform": "linux",
			"kind":     "commit",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/runs", map[string]any{
			"platform": "linux",
			"kind":     "nightly",
			"branch":   "master",
			"commit":   "abc",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleRunProgress(t *testing.T) {
	router, srv := setupServer(t, nil)
	ctx := context.Background()

	run := createRunViaAPI(t, router)

	t.Run("no events yet", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet,
			fmt.Sprintf("/api/v1/runs/%d/progress", run.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		assert.Equal(t, false, resp["finished"])
		assert.Equal(t, false, resp["failed"])

		progress, ok := resp["progress"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "error", progress["state"])
		assert.Equal(t, float64(-1), progress["step"])
		assert.Equal(t, "unset", progress["start"])
		assert.Equal(t, "unset", progress["end"])
	})

	t.Run("after events", func(t *testing.T) {
		t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		stages := []lifecycle.Stage{
			lifecycle.StagePreparation,
			lifecycle.StageBuilding,
			lifecycle.StageTesting,
			lifecycle.StageCanceled,
		}
		for i, stage := range stages {
			require.NoError(t, srv.store.AppendEvent(
				ctx, run.ID, stage, "", t0.Add(time.Duration(i)*time.Minute),
			))
		}

		rec := doJSON(t, router, http.MethodGet,
			fmt.Sprintf("/api/v1/runs/%d/progress", run.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		assert.Equal(t, true, resp["finished"])
		assert.Equal(t, true, resp["failed"])

		progress, ok := resp["progress"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "error", progress["state"])
		assert.Equal(t, float64(2), progress["step"])
		assert.Equal(t, "2025-03-01T12:00:00Z", progress["start"])
		assert.Equal(t, "2025-03-01T12:03:00Z", progress["end"])
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/v1/runs/999/progress", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleAppendEvent(t *testing.T) {
	router, _ := setupServer(t, nil)

	run := createRunViaAPI(t, router)

	t.Run("valid stage", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/api/v1/runs/%d/events", run.ID),
			map[string]any{"stage": "preparation", "message": "queued"})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("unknown stage", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/api/v1/runs/%d/events", run.ID),
			map[string]any{"stage": "deploying"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/runs/999/events",
			map[string]any{"stage": "preparation"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleRunResults(t *testing.T) {
	router, _ := setupServer(t, nil)

	run := createRunViaAPI(t, router)

	rec := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/runs/%d/cases/1/results", run.ID),
		map[string]any{"runtime_ms": 120, "exit_code": 0, "expected_exit_code": 0})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/runs/%d/cases/1/comparisons", run.ID),
		map[string]any{
			"output_id":     1,
			"expected_file": "expected.txt",
			"actual_file":   "actual.txt",
		})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/v1/runs/%d/results", run.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome results.RunOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))

	assert.Equal(t, 1, outcome.Total)
	assert.Equal(t, 1, outcome.Failed)
	require.Len(t, outcome.Cases, 1)
	assert.False(t, outcome.Cases[0].OutputsMatch)
}

func TestHandleOutputDiff(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "expected.txt"), []byte("a\nb\nc\n"), 0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "actual.txt"), []byte("a\nx\nc\n"), 0o644,
	))

	cfg := &config.Config{}
	cfg.Artifacts.Local = &config.LocalArtifactsConfig{
		Enabled: true,
		BaseDir: dir,
	}

	router, _ := setupServer(t, cfg)

	run := createRunViaAPI(t, router)

	rec := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/runs/%d/cases/1/comparisons", run.ID),
		map[string]any{
			"output_id":     1,
			"expected_file": "expected.txt",
			"actual_file":   "actual.txt",
		})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/runs/%d/cases/1/comparisons", run.ID),
		map[string]any{
			"output_id":     2,
			"expected_file": "expected.txt",
			"actual_file":   "file_fail.txt",
		})
	require.Equal(t, http.StatusCreated, rec.Code)

	diffPath := func(outputID uint, mode string) string {
		p := fmt.Sprintf(
			"/api/v1/runs/%d/cases/1/outputs/%d/diff", run.ID, outputID,
		)
		if mode != "" {
			p += "?mode=" + mode
		}

		return p
	}

	t.Run("inline view", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, diffPath(1, "inline-view"), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Empty(t, rec.Header().Get("Content-Disposition"))
		assert.False(t, strings.HasPrefix(rec.Body.String(), "<!DOCTYPE html>"))
		assert.Contains(t, rec.Body.String(), "changed")
	})

	t.Run("download", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, diffPath(1, "download"), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Contains(t,
			rec.Header().Get("Content-Disposition"), "attachment")
		assert.True(t, strings.HasPrefix(rec.Body.String(), "<!DOCTYPE html>"))
	})

	t.Run("missing artifact reports not found in both modes", func(t *testing.T) {
		for _, mode := range []string{"inline-view", "download"} {
			rec := doJSON(t, router, http.MethodGet, diffPath(2, mode), nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Contains(t, rec.Body.String(), "artifact missing")
		}
	})

	t.Run("unknown comparison", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, diffPath(99, ""), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad mode", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, diffPath(1, "pdf"), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleDeleteRun(t *testing.T) {
	router, _ := setupServer(t, nil)

	run := createRunViaAPI(t, router)

	rec := doJSON(t, router, http.MethodDelete,
		fmt.Sprintf("/api/v1/runs/%d", run.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/v1/runs/%d", run.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth = config.AuthConfig{
		Enabled:       true,
		AnonymousRead: true,
		Users: []config.AuthUser{
			{Username: "worker", Password: "secret", Role: "worker"},
		},
	}

	router, _ := setupServer(t, cfg)

	body := map[string]any{
		"platform": "linux",
		"kind":     "commit",
		"branch":   "master",
		"commit":   "abc",
	}

	t.Run("write without credentials is rejected", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/runs", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("write with bad password is rejected", func(t *testing.T) {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		req := httptest.NewRequest(
			http.MethodPost, "/api/v1/runs", bytes.NewReader(data),
		)
		req.SetBasicAuth("worker", "wrong")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("write with valid credentials succeeds", func(t *testing.T) {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		req := httptest.NewRequest(
			http.MethodPost, "/api/v1/runs", bytes.NewReader(data),
		)
		req.SetBasicAuth("worker", "secret")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("anonymous read is allowed", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/v1/runs", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
