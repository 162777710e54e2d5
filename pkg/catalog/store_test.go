package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/mediagate/pkg/recording"
	"github.com/harun/mediagate/pkg/transcoder"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "db", "catalog.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testInfo(id string, kind recording.StreamKind, startedAt time.Time) recording.Info {
	return recording.Info{
		ID:        id,
		ConnID:    "conn-1",
		Kind:      kind,
		RawPath:   "/videos/" + id + "_" + kind.String() + "_raw.webm",
		FinalPath: "/videos/" + id + "_" + kind.String() + ".mp4",
		Metadata:  map[string]string{"width": "640"},
		StartedAt: startedAt,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStoreLifecycleReady(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	info := testInfo("a", recording.Camera, time.Now())

	require.NoError(t, store.RecordingStarted(ctx, info))

	rec, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusRecording, rec.Status)
	assert.Equal(t, "camera", rec.Kind)
	assert.Equal(t, map[string]string{"width": "640"}, rec.Metadata)
	assert.Nil(t, rec.EndedAt)
	assert.Equal(t, info.StartedAt.UnixMilli(), rec.StartedAt.UnixMilli())
	assert.Equal(t, info.RawPath, rec.Path())

	artifact := recording.Artifact{
		Info:         info,
		EndedAt:      time.Now(),
		BytesWritten: 3,
	}
	artifact.Metadata = map[string]string{"width": "1280", "title": "demo"}
	require.NoError(t, store.RecordingClosed(ctx, artifact))

	rec, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusTranscoding, rec.Status)
	assert.Equal(t, int64(3), rec.BytesWritten)
	assert.Equal(t, "demo", rec.Metadata["title"])
	require.NotNil(t, rec.EndedAt)

	require.NoError(t, store.TranscodeFinished(ctx, artifact, transcoder.Result{}))
	rec, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, rec.Status)
	assert.Equal(t, info.FinalPath, rec.Path())
}

func TestStoreTranscodeFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	info := testInfo("b", recording.Screen, time.Now())
	require.NoError(t, store.RecordingStarted(ctx, info))

	artifact := recording.Artifact{Info: info, EndedAt: time.Now()}
	require.NoError(t, store.RecordingClosed(ctx, artifact))
	require.NoError(t, store.TranscodeFinished(ctx, artifact, transcoder.Result{
		ExitCode: 1,
		LogPath:  info.RawPath + ".log",
		Err:      errors.New("ffmpeg failed: exit status 1"),
	}))

	rec, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "exit status 1")
	assert.Equal(t, info.RawPath+".log", rec.LogPath)
	assert.Equal(t, info.RawPath, rec.Path())
}

func TestStoreAbortedAndSinkFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	aborted := testInfo("c", recording.Camera, time.Now())
	broken := testInfo("d", recording.Camera, time.Now())
	require.NoError(t, store.RecordingStarted(ctx, aborted))
	require.NoError(t, store.RecordingStarted(ctx, broken))

	require.NoError(t, store.RecordingClosed(ctx, recording.Artifact{Info: aborted, EndedAt: time.Now(), Aborted: true}))
	require.NoError(t, store.RecordingClosed(ctx, recording.Artifact{Info: broken, EndedAt: time.Now(), Err: errors.New("sink write: disk full")}))

	rec, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, rec.Status)

	rec, err = store.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "sink write: disk full", rec.Error)
}

func TestStoreUpdateUnknownID(t *testing.T) {
	store := openTestStore(t)
	err := store.RecordingClosed(context.Background(), recording.Artifact{Info: recording.Info{ID: "missing"}})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListAndCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.RecordingStarted(ctx, testInfo(id, recording.Camera, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, store.RecordingClosed(ctx, recording.Artifact{Info: testInfo("r2", recording.Camera, base), EndedAt: time.Now(), Aborted: true}))

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ID, "newest first")

	recordingOnly, err := store.List(ctx, Filter{Status: StatusRecording})
	require.NoError(t, err)
	assert.Len(t, recordingOnly, 2)

	limited, err := store.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusRecording: 2, StatusAborted: 1}, counts)
}

func TestStoreRecoverInterrupted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	live := testInfo("live", recording.Camera, time.Now())
	encoding := testInfo("enc", recording.Screen, time.Now())
	require.NoError(t, store.RecordingStarted(ctx, live))
	require.NoError(t, store.RecordingStarted(ctx, encoding))
	require.NoError(t, store.RecordingClosed(ctx, recording.Artifact{Info: encoding, EndedAt: time.Now()}))

	n, err := store.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rec, err := store.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, rec.Status)
	assert.Equal(t, "interrupted", rec.Error)
	assert.NotNil(t, rec.EndedAt)

	rec, err = store.Get(ctx, "enc")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)

	n, err = store.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("ready")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, s)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}
