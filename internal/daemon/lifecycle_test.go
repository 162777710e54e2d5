package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg)
	defer d.closeModules()

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(cfg.DataDir, "mediagate.pid"), lm.pidFile)
	assert.Equal(t, filepath.Join(cfg.Storage.Root, ".mediagate.lock"), lm.lockPath)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	defer d.closeModules()

	lm := NewLifecycleManager(d)
	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestLifecycleManagerRefusesSharedStorageRoot(t *testing.T) {
	cfg := testConfig(t)
	first := createTestDaemon(t, cfg)
	defer first.closeModules()

	other := testConfig(t)
	other.Storage.Root = cfg.Storage.Root
	second := createTestDaemon(t, other)
	defer second.closeModules()

	a := NewLifecycleManager(first)
	require.NoError(t, a.Start())
	defer func() { _ = a.Stop() }()

	b := NewLifecycleManager(second)
	assert.ErrorIs(t, b.Start(), ErrAlreadyRunning)
	_, err := os.Stat(b.pidFile)
	assert.True(t, os.IsNotExist(err), "refused manager must not write a PID file")
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.pid")
	require.NoError(t, os.WriteFile(valid, []byte(strconv.Itoa(4242)+"\n"), 0644))
	pid, err := ReadPIDFile(valid)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	invalid := filepath.Join(dir, "invalid.pid")
	require.NoError(t, os.WriteFile(invalid, []byte("nope"), 0644))
	_, err = ReadPIDFile(invalid)
	assert.Error(t, err)

	_, err = ReadPIDFile(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))
}
