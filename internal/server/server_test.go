package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopeline/internal/config"
	"scopeline/internal/db"
	"scopeline/internal/engine"
	"scopeline/internal/migrate"
	"scopeline/internal/server"
	"scopeline/internal/sweep"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	eng := engine.New(conn, cfg, nil)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	handler, err := server.New(server.Config{
		Engine:  eng,
		Sweeper: sweep.New(eng, nil),
		Auth: server.AuthConfig{
			JWTSecret:        testSecret,
			AllowActorHeader: true,
		},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, actor string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor-Id", actor)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodGet, "/v0/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodGet, "/v0/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	assert.Equal(t, "unauthorized", errBody["code"])
}

func TestBearerToken(t *testing.T) {
	ts := newTestServer(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "am-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v0/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp, job := doJSON(t, ts, http.MethodPost, "/v0/jobs", "am-1", map[string]any{
		"client_name":        "Acme",
		"title":              "External review",
		"overview":           "Annual review",
		"primary_contact":    "contact@acme.example",
		"account_manager_id": "am-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	jobID, _ := job["id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "draft", job["status"])

	// a transition with a failing guard reports messages, not an error
	resp, _ = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/v0/jobs/%s/phases", jobID), "am-1", map[string]any{
		"title": "Phase one",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, tr := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/v0/jobs/%s/transition", jobID), "am-1", map[string]any{
		"target": "pending_scope",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, tr["allowed"])

	resp, tr = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/v0/jobs/%s/transition", jobID), "scoper-1", map[string]any{
		"target": "scoping",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, tr["allowed"])

	// signoff readiness is blocked by the unscoped phase
	resp, tr = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/v0/jobs/%s/transition", jobID), "scoper-1", map[string]any{
		"target": "pending_scoping_signoff",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, tr["allowed"])
	msgs, _ := tr["messages"].([]any)
	assert.NotEmpty(t, msgs)

	// can-transition reports the same refusal without mutating anything
	resp, tr = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/v0/jobs/%s/can-transition", jobID), "scoper-1", map[string]any{
		"target": "pending_scoping_signoff",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, tr["allowed"])

	// targets endpoint shows guard outcomes per reachable state
	resp, _ = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/v0/jobs/%s/targets", jobID), "am-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// undeclared target is refused, not an internal error
	resp, tr = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/v0/jobs/%s/transition", jobID), "am-1", map[string]any{
		"target": "completed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, tr["allowed"])

	// bogus status names are a bad request
	resp, _ = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/v0/jobs/%s/transition", jobID), "am-1", map[string]any{
		"target": "nonsense",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotFoundEnvelope(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodGet, "/v0/jobs/nope", "am-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	assert.Equal(t, "not_found", errBody["code"])
}

func TestSlotEndpointValidation(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodPost, "/v0/slots", "am-1", map[string]any{
		"person_id": "consultant-1",
		"start":     "2024-03-04T17:00:00Z",
		"end":       "2024-03-04T09:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, slot := doJSON(t, ts, http.MethodPost, "/v0/slots", "am-1", map[string]any{
		"person_id": "consultant-1",
		"start":     "2024-03-04T09:00:00Z",
		"end":       "2024-03-04T17:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	slotID, _ := slot["id"].(string)
	require.NotEmpty(t, slotID)

	// unbound slots are always confirmed
	resp, detail := doJSON(t, ts, http.MethodGet, "/v0/slots/"+slotID, "am-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, detail["confirmed"])
}

func TestSweepEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, stats := doJSON(t, ts, http.MethodPost, "/v0/sweep", "system", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, stats, "examined")
}
