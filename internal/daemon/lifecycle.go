package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
)

const (
	pidFileName  = "mediagate.pid"
	lockFileName = ".mediagate.lock"
)

// ErrAlreadyRunning is returned when another daemon holds the storage lock.
var ErrAlreadyRunning = errors.New("another mediagate daemon is using this storage root")

// LifecycleManager owns the PID file and the storage root lock.
type LifecycleManager struct {
	daemon   *Daemon
	pidFile  string
	lockPath string
	lock     *flock.Flock
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	lockPath := filepath.Join(d.config.Storage.Root, lockFileName)
	return &LifecycleManager{
		daemon:   d,
		pidFile:  PIDFilePath(d.config.DataDir),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
}

// PIDFilePath returns the PID file location for a data directory.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, pidFileName)
}

// Start takes the storage lock and writes the PID file. Two daemons
// sharing a storage root would interleave catalog recovery and artifact
// names, so the second one is refused.
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(l.daemon.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}

	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire storage lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if err := l.writePIDFile(); err != nil {
		_ = l.lock.Unlock()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.daemon.logger.Info().
		Str("pid_file", l.pidFile).
		Str("lock", l.lockPath).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop removes the PID file and releases the lock.
func (l *LifecycleManager) Stop() error {
	var result *multierror.Error

	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, fmt.Errorf("failed to remove PID file: %w", err))
	}
	if err := l.lock.Unlock(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to release storage lock: %w", err))
	}

	l.daemon.logger.Info().Msg("Lifecycle manager stopped")
	return result.ErrorOrNil()
}

func (l *LifecycleManager) writePIDFile() error {
	return os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// GetPID returns the daemon PID from the PID file
func (l *LifecycleManager) GetPID() (int, error) {
	return ReadPIDFile(l.pidFile)
}

// ReadPIDFile parses a PID file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}
