package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reedfamily/mcbridge/internal/config"
	"github.com/reedfamily/mcbridge/internal/game"
)

func webhookConfig() *config.Config {
	return &config.Config{
		Listen: "127.0.0.1:0",
		Engine: config.EngineConfig{SourceMode: "webhook", ShowDeathMessages: true},
		Hook:   config.HookConfig{Buffer: 8},
		API:    config.APIConfig{AllowedOrigins: []string{"*"}},
		Metrics: config.MetricsConfig{
			Enable: true,
			Path:   "/metrics",
		},
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_WebhookToFeed(t *testing.T) {
	srv, err := New(webhookConfig(), zap.NewNop())
	require.NoError(t, err)
	defer srv.Stop()
	require.NoError(t, srv.Start())

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	_, events := srv.Hub().Subscribe()

	body := strings.Join([]string{
		"[12:00:00] [Server thread/INFO]: Saving chunks for level 'world'",
		"[12:00:00] [Server thread/INFO]: <Alice> hello",
		"[12:00:00] [Server thread/INFO]: Bob drowned",
	}, "\n")
	resp, err := http.Post(ts.URL+"/minecraft/hook", "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	for _, want := range []game.EventKind{game.KindChat, game.KindDeath} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Type)
			assert.NotEmpty(t, ev.ID)
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s event", want)
		}
	}

	code, health := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, health, `"engine":"running"`)

	assert.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		m := string(b)
		return strings.Contains(m, "mcbridge_log_lines_total 3") &&
			strings.Contains(m, `mcbridge_events_total{type="death"} 1`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServer_StopEndsEngine(t *testing.T) {
	srv, err := New(webhookConfig(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	srv.Stop()
	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.NoError(t, srv.Err())

	code, _ := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_MessagesNeedRCON(t *testing.T) {
	srv, err := New(webhookConfig(), zap.NewNop())
	require.NoError(t, err)
	defer srv.Stop()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/messages", "application/json", strings.NewReader(`{"username":"a","message":"b"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ProcessModeNeedsStdin(t *testing.T) {
	cfg := webhookConfig()
	cfg.Engine.SourceMode = "process"
	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)

	srv, err := New(cfg, zap.NewNop(), WithStdin(io.NopCloser(strings.NewReader(""))))
	require.NoError(t, err)
	srv.Stop()
}

func TestServer_FileModeMissingFile(t *testing.T) {
	cfg := webhookConfig()
	cfg.Engine.SourceMode = "file"
	cfg.Engine.FilePath = t.TempDir() + "/latest.log"
	srv, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer srv.Stop()

	assert.Error(t, srv.Start())
}
