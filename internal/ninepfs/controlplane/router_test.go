package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	sessions []SessionInfo
	active   int32
}

func (f *fakeProvider) Sessions() []SessionInfo { return f.sessions }
func (f *fakeProvider) ActiveCount() int32      { return f.active }

type fakeMetricsSnapshot struct {
	messagesTotal, errorsTotal, bytesIn, bytesOut uint64
}

func (f *fakeMetricsSnapshot) Snapshot() (messagesTotal, errorsTotal, bytesIn, bytesOut uint64) {
	return f.messagesTotal, f.errorsTotal, f.bytesIn, f.bytesOut
}

type fakeRecentSessions struct {
	entries []SessionInfo
}

func (f *fakeRecentSessions) Recent(limit int) []SessionInfo {
	if limit <= 0 || limit > len(f.entries) {
		return f.entries
	}
	return f.entries[:limit]
}

func TestRouter_Healthz(t *testing.T) {
	router := NewRouter(&fakeProvider{}, nil, nil, 3, time.Now(), func() {})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestRouter_Stats(t *testing.T) {
	provider := &fakeProvider{active: 2}
	snapshot := &fakeMetricsSnapshot{messagesTotal: 10, errorsTotal: 1, bytesIn: 100, bytesOut: 200}
	startedAt := time.Now().Add(-time.Minute)
	router := NewRouter(provider, snapshot, nil, 5, startedAt, func() {})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 2, stats.ActiveSessions)
	require.Equal(t, 5, stats.MaxSessions)
	require.NotEmpty(t, stats.Uptime)
	require.EqualValues(t, 10, stats.MessagesTotal)
	require.EqualValues(t, 1, stats.ErrorsTotal)
	require.EqualValues(t, 100, stats.BytesIn)
	require.EqualValues(t, 200, stats.BytesOut)
}

func TestRouter_Sessions(t *testing.T) {
	provider := &fakeProvider{sessions: []SessionInfo{
		{ClientAddr: "10.0.0.5:4001", State: "open", OpenFIDs: 3},
	}}
	recent := &fakeRecentSessions{entries: []SessionInfo{
		{ClientAddr: "10.0.0.6:4002", State: "clunk", OpenFIDs: 0},
	}}
	router := NewRouter(provider, nil, recent, 3, time.Now(), func() {})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var sessions []SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 2)
	require.Equal(t, "10.0.0.5:4001", sessions[0].ClientAddr)
	require.Equal(t, 3, sessions[0].OpenFIDs)
	require.Equal(t, "10.0.0.6:4002", sessions[1].ClientAddr)
}

func TestRouter_Shutdown(t *testing.T) {
	shutdownCalled := make(chan struct{})
	router := NewRouter(&fakeProvider{}, nil, nil, 3, time.Now(), func() { close(shutdownCalled) })

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-shutdownCalled:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback was not invoked")
	}
}

func TestRouter_UnknownRouteIs404(t *testing.T) {
	router := NewRouter(&fakeProvider{}, nil, nil, 3, time.Now(), func() {})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
