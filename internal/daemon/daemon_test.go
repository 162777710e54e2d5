package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/mediagate/internal/config"
	"github.com/harun/mediagate/internal/logger"
	"github.com/harun/mediagate/pkg/catalog"
	"github.com/harun/mediagate/pkg/recording"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder writes a shell script that copies its input to the last
// argument, standing in for ffmpeg.
func fakeEncoder(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell encoder stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nin=\"$2\"\nfor last; do :; done\ncp \"$in\" \"$last\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Gateway.ShutdownTimeout = 5
	cfg.Storage.Root = filepath.Join(tmpDir, "recordings")
	cfg.Catalog.Path = filepath.Join(tmpDir, "catalog.db")
	cfg.Janitor.Schedule = "@every 1h"
	cfg.Transcoder.Binary = "ffmpeg"
	return cfg
}

func createTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "info", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d
}

func TestNew(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))

	assert.NotNil(t, d.queue)
	assert.NotNil(t, d.catalog)
	assert.NotNil(t, d.recordings)
	assert.NotNil(t, d.transcoder)
	assert.NotNil(t, d.finalizer)
	assert.NotNil(t, d.gatewayServer)
	assert.NotNil(t, d.janitor)
	assert.NotNil(t, d.lifecycle)
	assert.False(t, d.Status().Running)

	d.closeModules()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Root = ""

	log, err := logger.New(logger.Config{Level: "info"})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, log)
	assert.Error(t, err)
}

func TestNewWithoutOptionalModules(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Enabled = false
	cfg.Janitor.Enabled = false

	d := createTestDaemon(t, cfg)
	assert.Nil(t, d.GetCatalog())
	assert.Nil(t, d.GetJanitor())

	require.NoError(t, d.Start())
	require.NoError(t, d.Stop())
}

func TestDaemonStartStop(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))

	require.NoError(t, d.Start())

	status := d.Status()
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.Addr)
	assert.False(t, status.StartTime.IsZero())
	assert.FileExists(t, PIDFilePath(d.config.DataDir))

	assert.Error(t, d.Start(), "second start must fail")

	resp, err := http.Get("http://" + status.Addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.NoFileExists(t, PIDFilePath(d.config.DataDir))

	assert.Error(t, d.Stop(), "stopping a stopped daemon must fail")
}

func TestDaemonRecordsEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transcoder.Binary = fakeEncoder(t)
	d := createTestDaemon(t, cfg)

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop() }()

	url := "ws://" + d.Status().Addr + cfg.Gateway.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]interface{} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var reply map[string]interface{}
		require.NoError(t, conn.ReadJSON(&reply))
		return reply
	}

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "start", "streamType": "screen"}))
	ack := read()
	require.Equal(t, "start_ack", ack["type"], "reply: %v", ack)
	fileID := ack["fileId"].(string)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "data", "streamType": "screen", "chunk": "aGVsbG8="}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "end", "streamType": "screen"}))

	end := read()
	require.Equal(t, "end_ack", end["type"], "reply: %v", end)

	finalPath := filepath.Join(cfg.Storage.Root, fileID+"_screen.mp4")
	assert.Equal(t, finalPath, end["filePath"])
	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.NoFileExists(t, filepath.Join(cfg.Storage.Root, fileID+"_screen_raw.webm"))

	require.Eventually(t, func() bool {
		rec, err := d.GetCatalog().Get(context.Background(), fileID)
		return err == nil && rec.Status == catalog.StatusReady
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemonRecoversInterruptedCatalogRows(t *testing.T) {
	cfg := testConfig(t)

	store, err := catalog.Open(catalog.Config{Path: cfg.Catalog.Path})
	require.NoError(t, err)
	require.NoError(t, store.RecordingStarted(context.Background(), recording.Info{
		ID:        "crashed",
		ConnID:    "conn",
		Kind:      recording.Camera,
		StartedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	d := createTestDaemon(t, cfg)
	require.NoError(t, d.Start())
	defer func() { _ = d.Stop() }()

	rec, err := d.GetCatalog().Get(context.Background(), "crashed")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAborted, rec.Status)
}

func TestWatchConfigAppliesLogLevel(t *testing.T) {
	previous := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(previous) })

	cfg := testConfig(t)
	d := createTestDaemon(t, cfg)
	require.NoError(t, d.Start())
	defer func() { _ = d.Stop() }()

	path := filepath.Join(cfg.DataDir, "mediagate.json")
	loader := config.NewLoader(path)
	require.NoError(t, loader.Save(cfg))
	require.NoError(t, d.WatchConfig(loader))

	cfg.Logging.Level = "debug"
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	require.Eventually(t, func() bool {
		return zerolog.GlobalLevel() == zerolog.DebugLevel
	}, 5*time.Second, 20*time.Millisecond)
}
