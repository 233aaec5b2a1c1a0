package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/cloudkitty/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serve(t *testing.T, p Params, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := NewEngine(p)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := serve(t, Params{Log: zap.NewNop()}, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Run("database reachable", func(t *testing.T) {
		db := dbtest.Open(t)
		w := serve(t, Params{DB: db, Log: zap.NewNop()}, "/readyz")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Ready  bool              `json:"ready"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.Ready)
		assert.Equal(t, "ok", body.Checks["database"])
	})

	t.Run("database missing", func(t *testing.T) {
		w := serve(t, Params{Log: zap.NewNop()}, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	w := serve(t, Params{Log: zap.NewNop()}, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
