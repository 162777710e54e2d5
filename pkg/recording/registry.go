package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/mediagate/internal/observability"
	"github.com/harun/mediagate/internal/tracing"
	"github.com/harun/mediagate/pkg/commandqueue"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrSessionExists is returned when a start arrives for a key that is
	// already recording.
	ErrSessionExists = errors.New("stream already recording")
	// ErrNoSession is returned when no session is registered for a key.
	ErrNoSession = errors.New("no active recording for stream")
	// ErrSessionClosed is returned when data races a session being finalized.
	ErrSessionClosed = errors.New("recording session is closing")
)

// Key identifies a session: one per (connection, kind).
type Key struct {
	ConnID string
	Kind   StreamKind
}

func (k Key) String() string {
	return k.ConnID + "/" + k.Kind.String()
}

// Observer is notified of session lifecycle changes.
type Observer interface {
	RecordingStarted(ctx context.Context, info Info) error
	RecordingClosed(ctx context.Context, artifact Artifact) error
}

// Config configures a Registry.
type Config struct {
	StorageRoot    string
	RawExtension   string
	FinalExtension string
	FlushThreshold int
	Queue          *commandqueue.CommandQueue
	OpenSink       SinkOpener
	Observer       Observer
	Logger         zerolog.Logger
}

// StartOptions carries per-session settings supplied by a start frame.
type StartOptions struct {
	Metadata map[string]string
	// OnWriteError is called from the session's sink lane on the first
	// sink failure. It is not called for aborted sessions.
	OnWriteError func(sessionID string, err error)
}

// Registry maps keys to live sessions.
type Registry struct {
	cfg    Config
	policy FlushPolicy
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewRegistry creates a registry and ensures the storage root exists.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.StorageRoot == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.RawExtension == "" {
		cfg.RawExtension = ".webm"
	}
	if cfg.FinalExtension == "" {
		cfg.FinalExtension = ".mp4"
	}
	if cfg.OpenSink == nil {
		cfg.OpenSink = openFileSink
	}

	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	return &Registry{
		cfg:      cfg,
		policy:   NewFlushPolicy(cfg.FlushThreshold),
		logger:   cfg.Logger.With().Str("component", "recording").Logger(),
		sessions: make(map[Key]*Session),
	}, nil
}

// StorageRoot returns the directory artifacts are written to.
func (r *Registry) StorageRoot() string {
	return r.cfg.StorageRoot
}

// Paths returns the raw and final artifact paths for a session id.
func (r *Registry) Paths(id string, kind StreamKind) (raw, final string) {
	base := fmt.Sprintf("%s_%s", id, kind)
	raw = filepath.Join(r.cfg.StorageRoot, base+"_raw"+r.cfg.RawExtension)
	final = filepath.Join(r.cfg.StorageRoot, base+r.cfg.FinalExtension)
	return raw, final
}

// Start opens a raw sink and registers a new session for key.
func (r *Registry) Start(ctx context.Context, key Key, opts StartOptions) (*Session, error) {
	if !key.Kind.Valid() {
		return nil, fmt.Errorf("invalid stream kind %d", key.Kind)
	}

	ctx, span := tracing.StartSpan(ctx, "mediagate.recording", "recording.start",
		attribute.String("conn_id", key.ConnID),
		attribute.String("stream_kind", key.Kind.String()),
	)
	defer span.End()

	id := uuid.NewString()
	rawPath, finalPath := r.Paths(id, key.Kind)

	if _, exists := r.Get(key); exists {
		return nil, ErrSessionExists
	}

	// The sink is opened outside r.mu so a slow filesystem stalls only this
	// key; the registration below rechecks for a concurrent winner.
	sink, err := r.cfg.OpenSink(rawPath)
	if err != nil {
		observability.RecordSinkError("open")
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to open raw sink: %w", err)
	}

	now := time.Now()
	sessCtx := newSessionContext(ctx, id, key.Kind)
	metadata := make(map[string]string, len(opts.Metadata))
	mergeMetadata(metadata, opts.Metadata)

	s := &Session{
		id:           id,
		connID:       key.ConnID,
		kind:         key.Kind,
		rawPath:      rawPath,
		finalPath:    finalPath,
		startedAt:    now,
		ctx:          sessCtx,
		logger:       tracing.LoggerFromContext(sessCtx, r.logger),
		queue:        r.cfg.Queue,
		lane:         "sink:" + id,
		sink:         sink,
		buffer:       NewBuffer(r.policy),
		metadata:     metadata,
		lastActivity: now,
		onWriteError: opts.OnWriteError,
	}
	r.mu.Lock()
	if _, exists := r.sessions[key]; exists {
		r.mu.Unlock()
		r.discardSink(sink, rawPath)
		return nil, ErrSessionExists
	}
	r.sessions[key] = s
	r.mu.Unlock()

	observability.RecordSessionStarted(key.Kind.String())
	s.logger.Info().Str("raw_path", rawPath).Msg("Recording started")

	if r.cfg.Observer != nil {
		if err := r.cfg.Observer.RecordingStarted(sessCtx, s.Info()); err != nil {
			s.logger.Warn().Err(err).Msg("Observer rejected recording start")
		}
	}

	return s, nil
}

// discardSink closes and removes a raw file that lost a start race.
func (r *Registry) discardSink(sink Sink, rawPath string) {
	if err := sink.Close(); err != nil {
		r.logger.Warn().Err(err).Str("raw_path", rawPath).Msg("Failed to close discarded sink")
	}
	if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn().Err(err).Str("raw_path", rawPath).Msg("Failed to remove discarded raw file")
	}
}

// Get returns the session registered for key.
func (r *Registry) Get(key Key) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Append adds chunk to the session for key. It reports false when no
// session is registered; such chunks are dropped.
func (r *Registry) Append(ctx context.Context, key Key, chunk []byte, metadata map[string]string) (bool, error) {
	s, ok := r.Get(key)
	if !ok {
		observability.RecordOrphanChunk(key.Kind.String())
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Debug().
			Str("stream_kind", key.Kind.String()).
			Int("bytes", len(chunk)).
			Msg("Dropping chunk without active recording")
		return false, nil
	}

	if err := s.Append(chunk, metadata); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			observability.RecordOrphanChunk(key.Kind.String())
			return false, nil
		}
		return false, err
	}

	observability.RecordChunk(key.Kind.String(), len(chunk))
	return true, nil
}

// End unregisters the session for key and finalizes it. The returned
// channel yields the artifact once the sink has been drained and closed.
func (r *Registry) End(ctx context.Context, key Key, metadata map[string]string) (<-chan Artifact, error) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if !ok {
		return nil, ErrNoSession
	}

	s.MergeMetadata(metadata)
	return r.finish(s, false), nil
}

// CloseConnection aborts every session owned by connID and waits for their
// sinks to close. No transcode follows an abort.
func (r *Registry) CloseConnection(ctx context.Context, connID string) []Artifact {
	r.mu.Lock()
	var owned []*Session
	for key, s := range r.sessions {
		if key.ConnID == connID {
			owned = append(owned, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	return r.abortAll(owned)
}

// ExpireIdle aborts sessions that have not received data for maxIdle.
func (r *Registry) ExpireIdle(ctx context.Context, maxIdle time.Duration) []Artifact {
	if maxIdle <= 0 {
		return nil
	}

	now := time.Now()
	r.mu.Lock()
	var idle []*Session
	for key, s := range r.sessions {
		if s.idleSince(now) >= maxIdle {
			idle = append(idle, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.logger.Warn().Dur("max_idle", maxIdle).Msg("Expiring idle recording")
	}
	return r.abortAll(idle)
}

// CloseAll aborts every registered session. Used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) []Artifact {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for key, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	return r.abortAll(all)
}

func (r *Registry) abortAll(sessions []*Session) []Artifact {
	if len(sessions) == 0 {
		return nil
	}

	artifacts := make([]Artifact, len(sessions))
	var wg conc.WaitGroup
	for i, s := range sessions {
		i, s := i, s
		wg.Go(func() {
			artifacts[i] = <-r.finish(s, true)
		})
	}
	wg.Wait()

	return artifacts
}

// finish finalizes a session that has already left the map.
func (r *Registry) finish(s *Session, aborted bool) <-chan Artifact {
	outcome := "ended"
	if aborted {
		outcome = "aborted"
	}
	observability.RecordSessionFinished(s.kind.String(), outcome)

	drained := s.finalize(aborted)
	out := make(chan Artifact, 1)
	go func() {
		artifact := <-drained

		event := s.logger.Info()
		if artifact.Err != nil {
			event = s.logger.Warn().Err(artifact.Err)
		}
		event.
			Str("outcome", outcome).
			Int64("bytes_written", artifact.BytesWritten).
			Dur("duration", artifact.EndedAt.Sub(artifact.StartedAt)).
			Msg("Recording closed")

		if r.cfg.Observer != nil {
			if err := r.cfg.Observer.RecordingClosed(s.ctx, artifact); err != nil {
				s.logger.Warn().Err(err).Msg("Observer failed to record close")
			}
		}

		out <- artifact
		close(out)
	}()
	return out
}

// Sessions returns a snapshot of all registered sessions ordered by start time.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
