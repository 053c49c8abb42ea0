package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store/memory"
)

// recordingRunner completes claimed sessions the way the pipeline would,
// optionally failing or blocking on demand.
type recordingRunner struct {
	mu      sync.Mutex
	ran     []string
	failErr error
	block   chan struct{} // when set, Run waits for ctx or the channel
	store   *memory.Store
}

func (r *recordingRunner) Run(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	r.ran = append(r.ran, sessionID)
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.block:
		}
	}
	if r.failErr != nil {
		return r.failErr
	}

	sess, err := r.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	sess.Status = models.SessionCompleted
	sess.CompletedAt = &now
	return r.store.Sessions().Update(ctx, sess)
}

func (r *recordingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func pendingSession(t *testing.T, st *memory.Store, question string) *models.Session {
	t.Helper()
	sess := &models.Session{
		QuestionText: question,
		QuestionType: models.QuestionBinary,
		Status:       models.SessionPending,
	}
	require.NoError(t, st.Sessions().Create(context.Background(), sess))
	return sess
}

func sessionStatus(t *testing.T, st *memory.Store, id string) models.SessionStatus {
	t.Helper()
	sess, err := st.Sessions().Get(context.Background(), id)
	require.NoError(t, err)
	return sess.Status
}

func TestWorkerPoolProcessesPendingSessions(t *testing.T) {
	st := memory.New()
	runner := &recordingRunner{store: st}
	first := pendingSession(t, st, "q1")
	second := pendingSession(t, st, "q2")

	pool := NewWorkerPool(Config{
		WorkerCount:  2,
		PollInterval: 10 * time.Millisecond,
	}, st, runner)
	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return sessionStatus(t, st, first.ID) == models.SessionCompleted &&
			sessionStatus(t, st, second.ID) == models.SessionCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, runner.runCount())
}

func TestWorkerMarksEscapedFailures(t *testing.T) {
	st := memory.New()
	// The runner errors without touching the session row, simulating a
	// crash before the orchestrator's own failure handling.
	runner := &recordingRunner{store: st, failErr: errors.New("store connection lost")}
	sess := pendingSession(t, st, "q")

	pool := NewWorkerPool(Config{
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	}, st, runner)
	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return sessionStatus(t, st, sess.ID) == models.SessionFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := st.Sessions().Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "worker:")
	require.NotNil(t, got.CompletedAt)
}

func TestWorkerPoolCancelSession(t *testing.T) {
	st := memory.New()
	runner := &recordingRunner{store: st, block: make(chan struct{})}
	sess := pendingSession(t, st, "q")

	pool := NewWorkerPool(Config{
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	}, st, runner)
	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return runner.runCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, pool.CancelSession("unknown"))
	assert.True(t, pool.CancelSession(sess.ID))

	// Cancellation surfaces as a run error; the worker flips the session
	// to failed since nothing else did.
	require.Eventually(t, func() bool {
		return sessionStatus(t, st, sess.ID) == models.SessionFailed
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return !pool.CancelSession(sess.ID)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerStopWaitsForInFlight(t *testing.T) {
	st := memory.New()
	block := make(chan struct{})
	runner := &recordingRunner{store: st, block: block}
	sess := pendingSession(t, st, "q")

	pool := NewWorkerPool(Config{
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	}, st, runner)
	pool.Start(context.Background())

	require.Eventually(t, func() bool {
		return runner.runCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a session was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the session finished")
	}
	assert.Equal(t, models.SessionCompleted, sessionStatus(t, st, sess.ID))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)

	custom := Config{WorkerCount: 5, PollInterval: time.Second, SessionTimeout: time.Minute}.withDefaults()
	assert.Equal(t, 5, custom.WorkerCount)
	assert.Equal(t, time.Second, custom.PollInterval)
	assert.Equal(t, time.Minute, custom.SessionTimeout)
}
