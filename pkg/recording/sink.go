package recording

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sink is the append-only destination of one stream's raw bytes.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// SinkOpener creates the sink for a new session's raw path.
type SinkOpener func(path string) (Sink, error)

// FileSink appends to a file that it created.
type FileSink struct {
	path string
	file *os.File
}

// OpenFileSink creates path exclusively and returns a sink appending to it.
func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create raw file: %w", err)
	}

	return &FileSink{path: path, file: file}, nil
}

func openFileSink(path string) (Sink, error) {
	return OpenFileSink(path)
}

// Path returns the file path of the sink.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends p to the file.
func (s *FileSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// Close syncs and closes the file.
func (s *FileSink) Close() error {
	syncErr := s.file.Sync()
	if err := s.file.Close(); err != nil {
		return err
	}
	return syncErr
}
