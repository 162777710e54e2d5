// Package janitor runs periodic housekeeping for the gateway: it expires
// recordings whose producers went silent and logs a snapshot of registry,
// queue and catalog state.
package janitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/mediagate/pkg/catalog"
	"github.com/harun/mediagate/pkg/commandqueue"
	"github.com/harun/mediagate/pkg/recording"
	"github.com/harun/mediagate/pkg/transcoder"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs housekeeping once a minute.
const DefaultSchedule = "@every 1m"

// CatalogCounter reports recordings per status.
type CatalogCounter interface {
	Counts(ctx context.Context) (map[catalog.Status]int, error)
}

// Config configures a Janitor.
type Config struct {
	// Schedule is a cron expression or descriptor such as "@every 30s".
	Schedule string
	// MaxIdle expires recordings that received no data for this long.
	// Zero disables expiry.
	MaxIdle    time.Duration
	Recordings *recording.Registry
	Queue      *commandqueue.CommandQueue
	Catalog    CatalogCounter
	Logger     zerolog.Logger
}

// Report is the result of one housekeeping pass.
type Report struct {
	At                time.Time
	ActiveRecordings  int
	Expired           []recording.Artifact
	SinkLanes         int
	TranscodesRunning int
	TranscodesQueued  int
	Catalog           map[catalog.Status]int
}

// Janitor schedules housekeeping passes.
type Janitor struct {
	cfg    Config
	cron   *cron.Cron
	logger zerolog.Logger

	mu   sync.Mutex
	last Report
}

// New validates cfg and registers the housekeeping job. Call Start to run it.
func New(cfg Config) (*Janitor, error) {
	if cfg.Recordings == nil {
		return nil, fmt.Errorf("recording registry is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}

	j := &Janitor{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "janitor").Logger(),
	}
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := j.cron.AddFunc(cfg.Schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}

	return j, nil
}

// Start begins running passes on the schedule.
func (j *Janitor) Start() {
	j.logger.Info().
		Str("schedule", j.cfg.Schedule).
		Dur("max_idle", j.cfg.MaxIdle).
		Msg("Janitor started")
	j.cron.Start()
}

// Stop prevents further passes and waits for a running one until ctx expires.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single housekeeping pass.
func (j *Janitor) RunOnce(ctx context.Context) Report {
	report := Report{At: time.Now()}

	if j.cfg.MaxIdle > 0 {
		report.Expired = j.cfg.Recordings.ExpireIdle(ctx, j.cfg.MaxIdle)
		for _, artifact := range report.Expired {
			j.logger.Warn().
				Str("session_id", artifact.ID).
				Str("stream_kind", artifact.Kind.String()).
				Str("raw_path", artifact.RawPath).
				Time("last_activity", artifact.LastActivity).
				Msg("Expired idle recording")
		}
	}
	report.ActiveRecordings = j.cfg.Recordings.Count()

	if j.cfg.Queue != nil {
		for lane, stats := range j.cfg.Queue.GetStats() {
			switch {
			case lane == transcoder.Lane:
				report.TranscodesRunning = stats["running"]
				report.TranscodesQueued = stats["queued"]
			case strings.HasPrefix(lane, "sink:"):
				report.SinkLanes++
			}
		}
	}

	if j.cfg.Catalog != nil {
		counts, err := j.cfg.Catalog.Counts(ctx)
		if err != nil {
			j.logger.Warn().Err(err).Msg("Failed to read catalog counts")
		} else {
			report.Catalog = counts
		}
	}

	event := j.logger.Debug()
	if len(report.Expired) > 0 || report.ActiveRecordings > 0 || report.TranscodesRunning > 0 {
		event = j.logger.Info()
	}
	catalogDict := zerolog.Dict()
	for status, n := range report.Catalog {
		catalogDict = catalogDict.Int(string(status), n)
	}
	event.
		Int("active_recordings", report.ActiveRecordings).
		Int("expired", len(report.Expired)).
		Int("sink_lanes", report.SinkLanes).
		Int("transcodes_running", report.TranscodesRunning).
		Int("transcodes_queued", report.TranscodesQueued).
		Dict("catalog", catalogDict).
		Msg("Housekeeping pass")

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()

	return report
}

// Last returns the most recent report.
func (j *Janitor) Last() Report {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}
