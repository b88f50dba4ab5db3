package worker

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-rag/pkg/logger"
    "github.com/feichai0017/document-rag/pkg/queue"
)

type handlerFunc func(ctx context.Context, task *queue.Task) error

func (f handlerFunc) HandleIndexTask(ctx context.Context, task *queue.Task) error { return f(ctx, task) }

func TestDocumentWorkerRecordsStatuses(t *testing.T) {
    q := queue.NewLocalQueue(1, time.Second, logger.NewNop())
    log := logger.NewTestLogger()

    var seenRunning string
    w := NewDocumentWorker(q, handlerFunc(func(ctx context.Context, task *queue.Task) error {
        st, err := q.GetTaskStatus(ctx, task.ID)
        if err == nil {
            seenRunning = st.Status
        }
        if task.ID == "bad" {
            return errors.New("no extractable text")
        }
        return nil
    }), log)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    require.NoError(t, w.Start(ctx))

    require.NoError(t, q.Enqueue(ctx, queue.NewIndexTask("good", "p", "good.pdf")))
    require.NoError(t, q.Enqueue(ctx, queue.NewIndexTask("bad", "p", "bad.pdf")))
    require.NoError(t, w.Stop())
    require.NoError(t, w.Stop())

    assert.Equal(t, queue.StatusRunning, seenRunning)

    good, err := q.GetTaskStatus(ctx, "good")
    require.NoError(t, err)
    assert.Equal(t, queue.StatusCompleted, good.Status)
    assert.Equal(t, 1.0, good.Progress)

    bad, err := q.GetTaskStatus(ctx, "bad")
    require.NoError(t, err)
    assert.Equal(t, queue.StatusFailed, bad.Status)
    assert.Equal(t, "no extractable text", bad.Error)
    assert.False(t, bad.FinishedAt.IsZero())

    assert.True(t, log.Contains("ERROR", "Document task failed"))
}

func TestDocumentWorkerRejectsInvalidTask(t *testing.T) {
    w := NewDocumentWorker(queue.NewLocalQueue(1, time.Second, logger.NewNop()), handlerFunc(func(ctx context.Context, task *queue.Task) error {
        t.Fatal("handler must not run")
        return nil
    }), logger.NewNop())

    err := w.handleDocumentIndex(context.Background(), &queue.Task{})
    assert.Error(t, err)
}
