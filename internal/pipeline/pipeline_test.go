package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callviewhq/callview/internal/ai"
	"github.com/callviewhq/callview/internal/db"
	"github.com/callviewhq/callview/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// fakeAI lets each test script the transcription and analysis
// steps.
type fakeAI struct {
	transcribe func(ctx context.Context, path string) (string, error)
	analyze    func(ctx context.Context) (ai.Result, error)
}

func (f *fakeAI) Transcribe(
	ctx context.Context, audioPath string,
) (string, error) {
	if f.transcribe != nil {
		return f.transcribe(ctx, audioPath)
	}
	return `[{"speaker":"manager","text":"hello","timestamp":"0:00"}]`, nil
}

func (f *fakeAI) Analyze(
	ctx context.Context, segmentsJSON string,
	categories []string, criteria map[string]string,
) (ai.Result, error) {
	if f.analyze != nil {
		return f.analyze(ctx)
	}
	return ai.Result{
		Category: "Sales",
		Criteria: map[string]float64{"Greeting": 80},
	}, nil
}

type env struct {
	db         *db.DB
	pipeline   *Pipeline
	uploadsDir string
}

func newEnv(t *testing.T, client ai.Client) *env {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	uploads := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))

	require.NoError(t, database.InsertManager(
		context.Background(), db.Manager{ID: "m1", Name: "Alice"},
	))

	p := New(database, client, uploads, 1)
	t.Cleanup(p.Stop)
	return &env{db: database, pipeline: p, uploadsDir: uploads}
}

func (e *env) addCall(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.db.InsertCall(context.Background(), db.Call{
		ID:         id,
		ManagerID:  "m1",
		Filename:   "m1/" + id + ".mp3",
		Status:     db.StatusUploaded,
		UploadDate: db.UploadStamp(time.Now()),
	}))
}

func waitStatus(t *testing.T, e *env, callID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		call, err := e.db.GetCall(context.Background(), callID)
		if err != nil || call == nil {
			return false
		}
		return call.Status == want
	}, 5*time.Second, 10*time.Millisecond,
		"call %s never reached %s", callID, want)
}

func TestProcessCompletesCall(t *testing.T) {
	e := newEnv(t, &fakeAI{})
	e.addCall(t, "c1")
	e.pipeline.Start()

	require.NoError(t, e.pipeline.Enqueue("c1", false))
	waitStatus(t, e, "c1", db.StatusCompleted)

	row, segments, found, err := e.db.GetAnalysisRow(
		context.Background(), "c1",
	)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Sales", row.Category)
	assert.Equal(t, 80.0, row.OverallScore)
	assert.Contains(t, segments, "hello")
}

func TestTranscriptionFailureMarksFailed(t *testing.T) {
	e := newEnv(t, &fakeAI{
		transcribe: func(context.Context, string) (string, error) {
			return "", errors.New("audio unreadable")
		},
	})
	e.addCall(t, "c1")
	e.pipeline.Start()

	require.NoError(t, e.pipeline.Enqueue("c1", false))
	waitStatus(t, e, "c1", db.StatusFailed)

	call, err := e.db.GetCall(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, call.Error)
	assert.Contains(t, *call.Error, "audio unreadable")
}

func TestCancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	e := newEnv(t, &fakeAI{
		transcribe: func(ctx context.Context, _ string) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	e.addCall(t, "c1")
	e.pipeline.Start()

	require.NoError(t, e.pipeline.Enqueue("c1", false))
	<-started
	require.NoError(t, e.pipeline.Cancel(context.Background(), "c1"))
	waitStatus(t, e, "c1", db.StatusCancelled)
}

func TestCancelQueuedCall(t *testing.T) {
	e := newEnv(t, &fakeAI{})
	e.addCall(t, "c1")
	// Workers not started yet, so the call sits in the queue.
	require.NoError(t, e.pipeline.Enqueue("c1", false))
	require.NoError(t, e.pipeline.Cancel(context.Background(), "c1"))

	e.pipeline.Start()
	// The worker sees the cancelled status and skips the job.
	time.Sleep(100 * time.Millisecond)
	call, err := e.db.GetCall(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusCancelled, call.Status)
}

func TestCancelCompletedCallErrors(t *testing.T) {
	e := newEnv(t, &fakeAI{})
	e.addCall(t, "c1")
	e.pipeline.Start()
	require.NoError(t, e.pipeline.Enqueue("c1", false))
	waitStatus(t, e, "c1", db.StatusCompleted)

	assert.Error(t, e.pipeline.Cancel(context.Background(), "c1"))
	assert.Error(t, e.pipeline.Cancel(context.Background(), "missing"))
}

func TestRetryReplacesAnalysis(t *testing.T) {
	var score atomic.Int64
	score.Store(40)
	e := newEnv(t, &fakeAI{
		analyze: func(context.Context) (ai.Result, error) {
			return ai.Result{
				Category: "Sales",
				Criteria: map[string]float64{
					"Greeting": float64(score.Load()),
				},
			}, nil
		},
	})
	e.addCall(t, "c1")
	e.pipeline.Start()

	require.NoError(t, e.pipeline.Enqueue("c1", false))
	waitStatus(t, e, "c1", db.StatusCompleted)

	score.Store(90)
	require.NoError(t, e.pipeline.Enqueue("c1", true))
	require.Eventually(t, func() bool {
		row, _, found, err := e.db.GetAnalysisRow(
			context.Background(), "c1",
		)
		return err == nil && found && row.OverallScore == 90
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRequeuePicksUpInterruptedCalls(t *testing.T) {
	e := newEnv(t, &fakeAI{})
	e.addCall(t, "c1")
	e.addCall(t, "c2")
	// A crash mid-processing leaves this status behind.
	require.NoError(t, e.db.SetCallStatus(
		context.Background(), "c2", db.StatusProcessing, "",
	))

	require.NoError(t, e.pipeline.Requeue(context.Background()))
	e.pipeline.Start()

	waitStatus(t, e, "c1", db.StatusCompleted)
	waitStatus(t, e, "c2", db.StatusCompleted)
}

func TestWatcherIngestsDroppedFiles(t *testing.T) {
	e := newEnv(t, &fakeAI{})
	e.pipeline.Start()

	managerDir := filepath.Join(e.uploadsDir, "m1")
	require.NoError(t, os.MkdirAll(managerDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(managerDir, "dropped.mp3"), []byte("audio"), 0o644,
	))
	// Ignored: wrong extension and unknown manager directory.
	require.NoError(t, os.WriteFile(
		filepath.Join(managerDir, "notes.txt"), []byte("x"), 0o644,
	))
	strayDir := filepath.Join(e.uploadsDir, "nobody")
	require.NoError(t, os.MkdirAll(strayDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(strayDir, "stray.mp3"), []byte("audio"), 0o644,
	))

	w, err := NewWatcher(
		e.db, e.pipeline, e.uploadsDir, 20*time.Millisecond,
	)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.Eventually(t, func() bool {
		ok, err := e.db.HasCallForFile(
			context.Background(), "m1/dropped.mp3",
		)
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)

	ok, err := e.db.HasCallForFile(context.Background(), "m1/notes.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.db.HasCallForFile(
		context.Background(), "nobody/stray.mp3",
	)
	require.NoError(t, err)
	assert.False(t, ok)

	// A second event for the same file never creates a duplicate.
	require.NoError(t, os.WriteFile(
		filepath.Join(managerDir, "dropped.mp3"), []byte("more"), 0o644,
	))
	time.Sleep(100 * time.Millisecond)
	var count int
	calls, err := e.db.ListCallsByStatus(
		context.Background(), db.StatusCompleted,
	)
	require.NoError(t, err)
	for _, c := range calls {
		if c.Filename == "m1/dropped.mp3" {
			count++
		}
	}
	assert.LessOrEqual(t, count, 1)
}
