package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	last    RunInfo
	hasLast bool
	running bool
}

func (s stubProvider) LastRun() (RunInfo, bool) { return s.last, s.hasLast }
func (s stubProvider) Running() bool            { return s.running }

func get(t *testing.T, s *Server) HealthResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth_BeforeFirstRun(t *testing.T) {
	s := NewServer(stubProvider{running: true})

	resp := get(t, s)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "dumpitall", resp.Service)
	assert.True(t, resp.RunInProgress)
	assert.Nil(t, resp.LastRun)
}

func TestHealth_ReportsLastRun(t *testing.T) {
	finished := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	s := NewServer(stubProvider{
		hasLast: true,
		last:    RunInfo{RunID: "r1", FinishedAt: finished, Instances: 3, BackupsCreated: 5, BackupsFailed: 1},
	})
	s.started = finished.Add(-time.Hour)
	s.now = func() time.Time { return finished }

	resp := get(t, s)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "r1", resp.LastRun.RunID)
	assert.Equal(t, 5, resp.LastRun.BackupsCreated)
	assert.True(t, finished.Equal(resp.LastRun.FinishedAt))
	assert.Equal(t, int64(3600), resp.UptimeSeconds)
}

func TestHealth_RejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer(stubProvider{})

	done := make(chan error, 1)
	go func() { done <- s.Start("127.0.0.1:0") }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	addr := s.Addr()

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	s := NewServer(nil)
	require.NoError(t, s.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Start("127.0.0.1:0") }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start listened after Shutdown")
	}
	assert.Empty(t, s.Addr())
}

func TestServer_StartListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = NewServer(nil).Start(ln.Addr().String())
	assert.Error(t, err)
}
