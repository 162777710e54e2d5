package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/mediagate/internal/observability"
	"github.com/harun/mediagate/internal/tracing"
	"github.com/harun/mediagate/pkg/commandqueue"
	"github.com/rs/zerolog"
)

// Info is a point-in-time view of a session.
type Info struct {
	ID            string            `json:"id"`
	ConnID        string            `json:"connId"`
	Kind          StreamKind        `json:"kind"`
	RawPath       string            `json:"rawPath"`
	FinalPath     string            `json:"finalPath"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	StartedAt     time.Time         `json:"startedAt"`
	LastActivity  time.Time         `json:"lastActivity"`
	PendingBytes  int               `json:"pendingBytes"`
	BytesAccepted int64             `json:"bytesAccepted"`
}

// Artifact describes a raw recording whose sink has been drained and closed.
type Artifact struct {
	Info
	EndedAt      time.Time `json:"endedAt"`
	BytesWritten int64     `json:"bytesWritten"`
	Aborted      bool      `json:"aborted"`
	// Err is the first sink failure seen by the session, if any.
	Err error `json:"-"`
}

// Session is the recording context of one (connection, kind) key.
type Session struct {
	id        string
	connID    string
	kind      StreamKind
	rawPath   string
	finalPath string
	startedAt time.Time

	ctx    context.Context
	logger zerolog.Logger
	queue  *commandqueue.CommandQueue
	lane   string
	sink   Sink

	mu            sync.Mutex
	buffer        *Buffer
	metadata      map[string]string
	lastActivity  time.Time
	bytesAccepted int64
	closing       bool
	// inFlight is the result of the most recent threshold flush.
	inFlight <-chan commandqueue.Result

	// writeMu is held by sink lane tasks only.
	writeMu      sync.Mutex
	bytesWritten int64
	writeErr     error
	onWriteError func(sessionID string, err error)
}

// ID returns the session id, reported to producers as fileId.
func (s *Session) ID() string { return s.id }

// ConnID returns the owning connection id.
func (s *Session) ConnID() string { return s.connID }

// Kind returns the stream kind of the session.
func (s *Session) Kind() StreamKind { return s.kind }

// RawPath returns the raw artifact path.
func (s *Session) RawPath() string { return s.rawPath }

// FinalPath returns the path the encoded artifact will be written to.
func (s *Session) FinalPath() string { return s.finalPath }

// Append buffers chunk and merges metadata into the session. A chunk that
// brings the pending size to the flush threshold schedules a sink write of
// everything buffered so far, then waits for the previous flush to land so a
// slow sink holds at most two flush payloads per session.
func (s *Session) Append(chunk []byte, metadata map[string]string) error {
	s.mu.Lock()

	if s.closing {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	mergeMetadata(s.metadata, metadata)
	s.lastActivity = time.Now()
	s.bytesAccepted += int64(len(chunk))

	var previous <-chan commandqueue.Result
	if data, ok := s.buffer.Append(chunk); ok {
		observability.RecordFlush("threshold", len(data))
		s.logger.Debug().Int("bytes", len(data)).Msg("Flushing buffered chunks")
		// Submitting under s.mu keeps lane order equal to append order.
		previous = s.inFlight
		s.inFlight = s.queue.Submit(s.ctx, s.lane, func(ctx context.Context) (interface{}, error) {
			return nil, s.write(data)
		}, nil)
	}
	s.mu.Unlock()

	if previous != nil {
		<-previous
	}
	return nil
}

// MergeMetadata merges metadata into the session without appending data.
func (s *Session) MergeMetadata(metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeMetadata(s.metadata, metadata)
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		ID:            s.id,
		ConnID:        s.connID,
		Kind:          s.kind,
		RawPath:       s.rawPath,
		FinalPath:     s.finalPath,
		Metadata:      copyMetadata(s.metadata),
		StartedAt:     s.startedAt,
		LastActivity:  s.lastActivity,
		PendingBytes:  s.buffer.Pending(),
		BytesAccepted: s.bytesAccepted,
	}
}

// idleSince reports how long the session has gone without data.
func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// write runs on the session's sink lane. After the first failure the sink
// is left alone; later bytes would only widen the gap.
func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}

	n, err := s.sink.Write(data)
	s.bytesWritten += int64(n)
	if err != nil {
		s.failLocked("write", fmt.Errorf("sink write: %w", err))
		return s.writeErr
	}
	return nil
}

func (s *Session) closeSink() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.sink.Close(); err != nil {
		closeErr := fmt.Errorf("sink close: %w", err)
		if s.writeErr == nil {
			s.failLocked("close", closeErr)
		}
		return closeErr
	}
	return s.writeErr
}

func (s *Session) failLocked(op string, err error) {
	s.writeErr = err
	observability.RecordSinkError(op)
	s.logger.Error().Err(err).Str("raw_path", s.rawPath).Msg("Sink failure")
	if s.onWriteError != nil {
		s.onWriteError(s.id, err)
	}
}

// finalize drains the buffer, closes the sink and delivers the resulting
// artifact on the returned channel. Aborted sessions do not report sink
// failures to the producer.
func (s *Session) finalize(aborted bool) <-chan Artifact {
	s.mu.Lock()
	s.closing = true
	rest := s.buffer.Drain()
	info := s.infoLocked()
	s.mu.Unlock()

	if aborted {
		s.writeMu.Lock()
		s.onWriteError = nil
		s.writeMu.Unlock()
	}

	if len(rest) > 0 {
		observability.RecordFlush("drain", len(rest))
	}

	drainAndClose := func() error {
		var writeErr error
		if len(rest) > 0 {
			writeErr = s.write(rest)
		}
		closeErr := s.closeSink()
		if writeErr != nil {
			return writeErr
		}
		return closeErr
	}

	done := s.queue.Submit(s.ctx, s.lane, func(ctx context.Context) (interface{}, error) {
		return nil, drainAndClose()
	}, nil)

	out := make(chan Artifact, 1)
	go func() {
		res := <-done
		err := res.Err
		if errors.Is(err, commandqueue.ErrQueueClosed) {
			err = drainAndClose()
		}
		s.queue.DropLane(s.lane)

		s.writeMu.Lock()
		written := s.bytesWritten
		s.writeMu.Unlock()

		out <- Artifact{
			Info:         info,
			EndedAt:      time.Now(),
			BytesWritten: written,
			Aborted:      aborted,
			Err:          err,
		}
		close(out)
	}()

	return out
}

func newSessionContext(parent context.Context, id string, kind StreamKind) context.Context {
	ctx := tracing.Detach(parent)
	ctx = tracing.WithSessionID(ctx, id)
	return tracing.WithStreamKind(ctx, kind.String())
}

func mergeMetadata(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func copyMetadata(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
