// Package finalizer hands gracefully ended recordings to the transcoder
// once their sinks are drained, and reports one Outcome per recording.
package finalizer

import (
	"context"
	"errors"

	"github.com/harun/mediagate/internal/tracing"
	"github.com/harun/mediagate/pkg/recording"
	"github.com/harun/mediagate/pkg/transcoder"
	"github.com/rs/zerolog"
)

// ErrSinkFailed marks outcomes whose raw file is incomplete. Such
// recordings are not transcoded.
var ErrSinkFailed = errors.New("raw recording incomplete")

// Transcoder schedules encoder runs.
type Transcoder interface {
	Submit(ctx context.Context, job transcoder.Job) <-chan transcoder.Result
}

// Observer is told about every encoder outcome.
type Observer interface {
	TranscodeFinished(ctx context.Context, artifact recording.Artifact, res transcoder.Result) error
}

// Outcome is the end state of one gracefully ended recording.
type Outcome struct {
	Artifact recording.Artifact
	// Transcode is nil when no encoder ran.
	Transcode *transcoder.Result
	Err       error
}

// Succeeded reports whether the final file exists and the raw file is gone.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Config holds finalizer configuration
type Config struct {
	Transcoder Transcoder
	Observer   Observer
	Logger     zerolog.Logger
}

// Finalizer turns drained artifacts into outcomes.
type Finalizer struct {
	transcoder Transcoder
	observer   Observer
	logger     zerolog.Logger
}

// New creates a Finalizer.
func New(cfg Config) (*Finalizer, error) {
	if cfg.Transcoder == nil {
		return nil, errors.New("transcoder is required")
	}
	return &Finalizer{
		transcoder: cfg.Transcoder,
		observer:   cfg.Observer,
		logger:     cfg.Logger.With().Str("component", "finalizer").Logger(),
	}, nil
}

// Finalize waits for drained, transcodes it and delivers the outcome on
// the returned channel. It never blocks the caller.
func (f *Finalizer) Finalize(ctx context.Context, drained <-chan recording.Artifact) <-chan Outcome {
	out := make(chan Outcome, 1)
	ctx = tracing.Detach(ctx)

	go func() {
		defer close(out)

		artifact, ok := <-drained
		if !ok {
			out <- Outcome{Err: errors.New("recording closed without artifact")}
			return
		}
		ctx := tracing.WithSessionID(ctx, artifact.ID)
		ctx = tracing.WithStreamKind(ctx, artifact.Kind.String())
		logger := tracing.LoggerFromContext(ctx, f.logger)

		if artifact.Err != nil {
			logger.Warn().Err(artifact.Err).Msg("Skipping transcode of incomplete recording")
			out <- Outcome{Artifact: artifact, Err: errors.Join(ErrSinkFailed, artifact.Err)}
			return
		}

		res := <-f.transcoder.Submit(ctx, transcoder.Job{
			ID:        artifact.ID,
			Kind:      artifact.Kind,
			RawPath:   artifact.RawPath,
			FinalPath: artifact.FinalPath,
		})

		if f.observer != nil {
			if err := f.observer.TranscodeFinished(ctx, artifact, res); err != nil {
				logger.Warn().Err(err).Msg("Failed to record transcode outcome")
			}
		}

		out <- Outcome{Artifact: artifact, Transcode: &res, Err: res.Err}
	}()

	return out
}
