package api

import (
	"btc-signal-desk/internal/database"
	"btc-signal-desk/internal/types"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store *database.SQLiteStore
	srv   *httptest.Server
	clock time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := database.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{store: store, clock: testNow}
	s := NewServer(store, prometheus.NewRegistry())
	s.now = func() time.Time { return env.clock }

	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

type alertEnvelope struct {
	Message string    `json:"message"`
	Data    AlertView `json:"data"`
}

type listEnvelope struct {
	Message string      `json:"message"`
	Data    []AlertView `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) create(t *testing.T, body string) AlertView {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/alerts", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out alertEnvelope
	decode(t, resp, &out)
	return out.Data
}

func TestCreateAlertDefaults(t *testing.T) {
	env := newTestEnv(t)

	a := env.create(t, `{"email":" alice@example.com ","direction":"ABOVE","price_threshold":50000}`)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "alice@example.com", a.Email)
	assert.Equal(t, types.AssetBTC, a.Asset)
	assert.Equal(t, types.Above, a.Direction)
	assert.Equal(t, types.DefaultCooldownMinutes, a.CooldownMinutes)
	assert.True(t, a.Enabled)
	assert.Nil(t, a.LastSentAt)
	assert.Equal(t, "never", a.LastSentAgo)
	assert.Equal(t, "$50.00K", a.ThresholdDisplay)
	assert.True(t, testNow.Equal(a.CreatedAt))
}

func TestCreateAlertValidation(t *testing.T) {
	env := newTestEnv(t)

	bad := []string{
		`{"direction":"above","price_threshold":50000}`,
		`{"email":"not an email","direction":"above","price_threshold":50000}`,
		`{"email":"a@example.com","direction":"sideways","price_threshold":50000}`,
		`{"email":"a@example.com","direction":"below","price_threshold":0.5}`,
		`{"email":"a@example.com","direction":"below","price_threshold":50000,"cooldown_minutes":29}`,
		`{"email":`,
	}
	for _, body := range bad {
		resp := env.do(t, http.MethodPost, "/alerts", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}

	all, err := env.store.List(context.Background(), types.AssetBTC)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListAlertsNewestFirst(t *testing.T) {
	env := newTestEnv(t)

	first := env.create(t, `{"email":"first@example.com","direction":"above","price_threshold":50000}`)
	env.clock = testNow.Add(time.Minute)
	second := env.create(t, `{"email":"second@example.com","direction":"below","price_threshold":40000,"enabled":false}`)

	sent := testNow.Add(-2 * time.Hour)
	require.NoError(t, env.store.Update(context.Background(), first.ID, types.AlertPatch{LastSentAt: &sent}))

	resp := env.do(t, http.MethodGet, "/alerts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out listEnvelope
	decode(t, resp, &out)

	require.Len(t, out.Data, 2)
	assert.Equal(t, second.ID, out.Data[0].ID)
	assert.False(t, out.Data[0].Enabled)
	assert.Equal(t, first.ID, out.Data[1].ID)
	assert.Equal(t, "2 hours ago", out.Data[1].LastSentAgo)
}

func TestToggleAlert(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, `{"email":"alice@example.com","direction":"above","price_threshold":50000}`)

	resp := env.do(t, http.MethodPost, "/alerts/"+a.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out alertEnvelope
	decode(t, resp, &out)
	assert.False(t, out.Data.Enabled)

	resp = env.do(t, http.MethodPost, "/alerts/"+a.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &out)
	assert.True(t, out.Data.Enabled)

	resp = env.do(t, http.MethodPost, "/alerts/missing/toggle", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateAlert(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, `{"email":"alice@example.com","direction":"above","price_threshold":50000,"custom_message":"hi"}`)

	resp := env.do(t, http.MethodPatch, "/alerts/"+a.ID, `{"direction":"below","price_threshold":45000.5,"cooldown_minutes":120}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out alertEnvelope
	decode(t, resp, &out)
	assert.Equal(t, types.Below, out.Data.Direction)
	assert.Equal(t, 45000.5, out.Data.PriceThreshold)
	assert.Equal(t, 120, out.Data.CooldownMinutes)
	assert.Equal(t, "hi", out.Data.CustomMessage)
	assert.Equal(t, "alice@example.com", out.Data.Email)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/alerts/"+a.ID, `{}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/alerts/"+a.ID, `{"cooldown_minutes":10}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPatch, "/alerts/missing", `{"enabled":false}`).StatusCode)
}

func TestDeleteAlert(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, `{"email":"alice@example.com","direction":"above","price_threshold":50000}`)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/alerts/"+a.ID, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/alerts/"+a.ID, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/alerts/"+a.ID, "").StatusCode)
}

func TestListRuns(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.RecordRun(context.Background(), types.RunReport{
		StartedAt: testNow,
		Asset:     types.AssetBTC,
		Price:     51000,
		Evaluated: 2,
		Triggered: 1,
		Sent:      1,
	}))

	resp := env.do(t, http.MethodGet, "/runs?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Data []types.RunReport `json:"data"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Data, 1)
	assert.Equal(t, 51000.0, out.Data[0].Price)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/runs?limit=abc", "").StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/alerts", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

type downStore struct {
	database.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func (downStore) List(context.Context, string) ([]types.Alert, error) {
	return nil, errors.New("connection refused")
}

func TestStoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(NewServer(downStore{}, prometheus.NewRegistry()).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/alerts")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp2.StatusCode)

	var out Response
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out))
	assert.True(t, strings.HasPrefix(out.Message, "Store"))
}
