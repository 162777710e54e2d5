package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/harun/mediagate/internal/observability"
	"github.com/harun/mediagate/internal/tracing"
	"github.com/harun/mediagate/pkg/commandqueue"
	"github.com/harun/mediagate/pkg/recording"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var commandContext = exec.CommandContext

// Lane is the command queue lane encoder runs are scheduled on.
const Lane = "transcode"

const (
	DefaultBinary      = "ffmpeg"
	DefaultVideoCodec  = "libx264"
	DefaultPreset      = "medium"
	DefaultCRF         = 23
	DefaultAudioCodec  = "aac"
	DefaultConcurrency = 2
	DefaultOutputLimit = 64 * 1024
)

// Config configures the encoder invocation.
type Config struct {
	Binary     string
	VideoCodec string
	Preset     string
	CRF        int
	AudioCodec string
	// ExtraArgs are placed between the codec options and the output path.
	ExtraArgs   []string
	Concurrency int
	// Timeout bounds one encoder run. Zero means no limit.
	Timeout     time.Duration
	OutputLimit int
	Queue       *commandqueue.CommandQueue
	Logger      zerolog.Logger
}

// Job is one raw recording to encode.
type Job struct {
	ID        string
	Kind      recording.StreamKind
	RawPath   string
	FinalPath string
}

// Result is the outcome of one encoder run.
type Result struct {
	Job      Job
	ExitCode int
	Output   []byte
	Duration time.Duration
	// LogPath is the diagnostics file written on failure.
	LogPath string
	Err     error
}

// Succeeded reports whether the encoder exited 0 and the raw file was handled.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Transcoder runs encoder jobs.
type Transcoder struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a Transcoder and sizes the transcode lane.
func New(cfg Config) (*Transcoder, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = DefaultVideoCodec
	}
	if cfg.Preset == "" {
		cfg.Preset = DefaultPreset
	}
	if cfg.CRF <= 0 {
		cfg.CRF = DefaultCRF
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = DefaultAudioCodec
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = DefaultOutputLimit
	}

	cfg.Queue.SetConcurrency(Lane, cfg.Concurrency)

	return &Transcoder{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "transcoder").Logger(),
	}, nil
}

// Args returns the encoder argument list for job.
func (t *Transcoder) Args(job Job) []string {
	args := []string{
		"-i", job.RawPath,
		"-c:v", t.cfg.VideoCodec,
		"-preset", t.cfg.Preset,
		"-crf", strconv.Itoa(t.cfg.CRF),
		"-c:a", t.cfg.AudioCodec,
	}
	args = append(args, t.cfg.ExtraArgs...)
	return append(args, job.FinalPath)
}

// Submit schedules job on the transcode lane. The channel receives exactly
// one Result.
func (t *Transcoder) Submit(ctx context.Context, job Job) <-chan Result {
	out := make(chan Result, 1)
	done := t.cfg.Queue.Submit(ctx, Lane, func(ctx context.Context) (interface{}, error) {
		res := t.Run(ctx, job)
		return res, res.Err
	}, &commandqueue.TaskOptions{
		WarnAfter: 30 * time.Second,
		OnWait: func(wait time.Duration, queuePos int) {
			t.logger.Warn().
				Str("file_id", job.ID).
				Dur("wait", wait).
				Int("queue_pos", queuePos).
				Msg("Transcode waiting for a free slot")
		},
	})

	go func() {
		defer close(out)
		res := <-done
		if r, ok := res.Value.(Result); ok {
			out <- r
			return
		}
		// Rejected before running, e.g. queue closed on shutdown.
		out <- Result{Job: job, ExitCode: -1, Err: res.Err}
	}()
	return out
}

// Run encodes job synchronously.
func (t *Transcoder) Run(ctx context.Context, job Job) Result {
	ctx, span := tracing.StartSpan(ctx, "mediagate.transcoder", "transcoder.run",
		attribute.String("file_id", job.ID),
		attribute.String("stream_kind", job.Kind.String()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, t.logger)

	if job.RawPath == "" || job.FinalPath == "" {
		err := errors.New("raw and final paths are required")
		tracing.FailSpan(span, err)
		return Result{Job: job, ExitCode: -1, Err: err}
	}

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	output := newTailBuffer(t.cfg.OutputLimit)
	cmd := commandContext(ctx, t.cfg.Binary, t.Args(job)...) //nolint:gosec
	cmd.Stdout = output
	cmd.Stderr = output

	logger.Info().Str("raw_path", job.RawPath).Str("final_path", job.FinalPath).Msg("Transcode started")

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Job:      job,
		Output:   output.Bytes(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		res.Err = fmt.Errorf("%s failed: %w", t.cfg.Binary, runErr)
		res.LogPath = t.writeDiagnostics(job, res, output.Truncated())
		_ = os.Remove(job.FinalPath)

		observability.RecordTranscode(job.Kind.String(), res.Duration, false)
		tracing.FailSpan(span, res.Err)
		logger.Error().
			Err(res.Err).
			Int("exit_code", res.ExitCode).
			Str("log_path", res.LogPath).
			Str("output_tail", lastLine(res.Output)).
			Msg("Transcode failed; raw file kept")
		return res
	}

	if err := os.Remove(job.RawPath); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("raw_path", job.RawPath).Msg("Failed to remove raw file")
	}

	observability.RecordTranscode(job.Kind.String(), res.Duration, true)
	logger.Info().Dur("duration", res.Duration).Msg("Transcode finished")
	return res
}

func (t *Transcoder) writeDiagnostics(job Job, res Result, truncated bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "command: %s %s\n", t.cfg.Binary, strings.Join(t.Args(job), " "))
	fmt.Fprintf(&b, "exit code: %d\n", res.ExitCode)
	fmt.Fprintf(&b, "duration: %s\n", res.Duration)
	fmt.Fprintf(&b, "error: %v\n", res.Err)
	if truncated {
		fmt.Fprintf(&b, "output (last %d bytes):\n", len(res.Output))
	} else {
		b.WriteString("output:\n")
	}
	b.Write(res.Output)

	path := job.RawPath + ".log"
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.logger.Warn().Err(err).Str("path", path).Msg("Failed to write transcode diagnostics")
		return ""
	}
	return path
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
