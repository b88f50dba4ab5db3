package queue

import (
    "context"
    "errors"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/hibiken/asynq"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-rag/pkg/logger"
)

func TestNewIndexTask(t *testing.T) {
    task := NewIndexTask("doc-1", "/data/u_a.pdf", "a.pdf")
    assert.Equal(t, "doc-1", task.ID)
    assert.Equal(t, TaskTypeDocumentIndex, task.Type)
    assert.Equal(t, "/data/u_a.pdf", task.Payload[PayloadPath])
    assert.Equal(t, "a.pdf", task.Payload[PayloadFilename])
    assert.Equal(t, "doc-1", task.Payload[PayloadDocID])
}

func TestLocalQueueRequiresStart(t *testing.T) {
    q := NewLocalQueue(1, time.Second, logger.NewNop())
    assert.ErrorIs(t, q.Enqueue(context.Background(), NewIndexTask("d", "p", "f")), ErrNotStarted)
}

func TestLocalQueueRunsTasks(t *testing.T) {
    q := NewLocalQueue(2, time.Second, logger.NewNop())
    var ran atomic.Int32
    require.NoError(t, q.Start(func(ctx context.Context, task *Task) error {
        ran.Add(1)
        _, hasDeadline := ctx.Deadline()
        assert.True(t, hasDeadline)
        return q.SaveFinalStatus(ctx, &TaskStatus{TaskID: task.ID, Status: StatusCompleted, Progress: 1, FinishedAt: time.Now()})
    }))

    for _, id := range []string{"a", "b", "c"} {
        require.NoError(t, q.Enqueue(context.Background(), NewIndexTask(id, "p", "f")))
    }
    require.NoError(t, q.Stop())

    assert.Equal(t, int32(3), ran.Load())
    st, err := q.GetTaskStatus(context.Background(), "b")
    require.NoError(t, err)
    assert.Equal(t, StatusCompleted, st.Status)
    assert.False(t, st.StartedAt.IsZero())

    assert.ErrorIs(t, q.Enqueue(context.Background(), NewIndexTask("d", "p", "f")), ErrStopped)
}

func TestLocalQueueBoundsConcurrency(t *testing.T) {
    q := NewLocalQueue(2, time.Second, logger.NewNop())
    var mu sync.Mutex
    running, peak := 0, 0
    require.NoError(t, q.Start(func(ctx context.Context, task *Task) error {
        mu.Lock()
        running++
        if running > peak {
            peak = running
        }
        mu.Unlock()
        time.Sleep(20 * time.Millisecond)
        mu.Lock()
        running--
        mu.Unlock()
        return nil
    }))

    for i := 0; i < 8; i++ {
        require.NoError(t, q.Enqueue(context.Background(), NewIndexTask(string(rune('a'+i)), "p", "f")))
    }
    require.NoError(t, q.Stop())
    assert.LessOrEqual(t, peak, 2)
}

func TestLocalQueueTaskTimeoutAndPanic(t *testing.T) {
    q := NewLocalQueue(1, 10*time.Millisecond, logger.NewNop())
    var ctxErr atomic.Value
    require.NoError(t, q.Start(func(ctx context.Context, task *Task) error {
        if task.ID == "boom" {
            panic("bad pdf")
        }
        <-ctx.Done()
        ctxErr.Store(ctx.Err())
        return ctx.Err()
    }))

    require.NoError(t, q.Enqueue(context.Background(), NewIndexTask("slow", "p", "f")))
    require.NoError(t, q.Enqueue(context.Background(), NewIndexTask("boom", "p", "f")))
    require.NoError(t, q.Stop())

    assert.True(t, errors.Is(ctxErr.Load().(error), context.DeadlineExceeded))
    st, err := q.GetTaskStatus(context.Background(), "boom")
    require.NoError(t, err)
    assert.Equal(t, StatusFailed, st.Status)
    assert.Contains(t, st.Error, "bad pdf")
}

func TestLocalQueueUnknownTask(t *testing.T) {
    q := NewLocalQueue(1, time.Second, logger.NewNop())
    _, err := q.GetTaskStatus(context.Background(), "nope")
    assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestLocalQueuePrunesOldStatuses(t *testing.T) {
    q := NewLocalQueue(1, time.Second, logger.NewNop())
    require.NoError(t, q.SaveFinalStatus(context.Background(), &TaskStatus{TaskID: "old", Status: StatusCompleted, FinishedAt: time.Now().Add(-48 * time.Hour)}))
    require.NoError(t, q.Start(func(ctx context.Context, task *Task) error { return nil }))
    require.NoError(t, q.Enqueue(context.Background(), NewIndexTask("new", "p", "f")))
    require.NoError(t, q.Stop())

    _, err := q.GetTaskStatus(context.Background(), "old")
    assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestConvertAsynqStatus(t *testing.T) {
    done := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
    tests := []struct {
        state asynq.TaskState
        want  string
    }{
        {asynq.TaskStatePending, StatusPending},
        {asynq.TaskStateActive, StatusRunning},
        {asynq.TaskStateCompleted, StatusCompleted},
        {asynq.TaskStateArchived, StatusFailed},
        {asynq.TaskStateRetry, StatusFailed},
    }
    for _, tt := range tests {
        st := convertAsynqStatus(&asynq.TaskInfo{ID: "d", State: tt.state, LastErr: "no text", CompletedAt: done})
        assert.Equal(t, tt.want, st.Status, tt.state.String())
    }

    st := convertAsynqStatus(&asynq.TaskInfo{ID: "d", State: asynq.TaskStateArchived, LastErr: "no text"})
    assert.Equal(t, "no text", st.Error)
}
