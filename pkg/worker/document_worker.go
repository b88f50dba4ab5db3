package worker

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/feichai0017/document-rag/pkg/logger"
    "github.com/feichai0017/document-rag/pkg/metrics"
    "github.com/feichai0017/document-rag/pkg/queue"
)

// TaskHandler is implemented by the document service.
type TaskHandler interface {
    HandleIndexTask(ctx context.Context, task *queue.Task) error
}

// DocumentWorker consumes document:index tasks and records their status.
type DocumentWorker struct {
    queue   queue.Queue
    handler TaskHandler
    logger  logger.Logger

    stopOnce sync.Once
    stopErr  error
}

func NewDocumentWorker(q queue.Queue, handler TaskHandler, log logger.Logger) *DocumentWorker {
    return &DocumentWorker{
        queue:   q,
        handler: handler,
        logger:  log.Named("worker"),
    }
}

// Start registers the handler on the queue. The queue stops when ctx is done.
func (w *DocumentWorker) Start(ctx context.Context) error {
    if err := w.queue.Start(w.handleDocumentIndex); err != nil {
        return err
    }
    go func() {
        <-ctx.Done()
        w.Stop()
    }()
    return nil
}

func (w *DocumentWorker) Stop() error {
    w.stopOnce.Do(func() {
        w.stopErr = w.queue.Stop()
    })
    return w.stopErr
}

func (w *DocumentWorker) handleDocumentIndex(ctx context.Context, task *queue.Task) error {
    if task.ID == "" || task.Payload == nil {
        w.logger.Error("Invalid task data", logger.String("taskId", task.ID))
        return fmt.Errorf("invalid task data: missing required fields")
    }

    start := time.Now()
    w.saveStatus(ctx, &queue.TaskStatus{TaskID: task.ID, Status: queue.StatusRunning, StartedAt: start})
    w.logger.Info("Processing document task",
        logger.String("taskId", task.ID),
        logger.String("filename", task.Payload[queue.PayloadFilename]),
    )

    err := w.handler.HandleIndexTask(ctx, task)
    duration := time.Since(start)
    metrics.IndexingDuration.Observe(duration.Seconds())

    final := &queue.TaskStatus{TaskID: task.ID, StartedAt: start, FinishedAt: time.Now()}
    if err != nil {
        final.Status = queue.StatusFailed
        final.Error = err.Error()
        metrics.DocumentsIndexedTotal.WithLabelValues("failed").Inc()
        w.logger.Error("Document task failed",
            logger.String("taskId", task.ID),
            logger.Duration("duration", duration),
            logger.Error(err),
        )
    } else {
        final.Status = queue.StatusCompleted
        final.Progress = 1
        metrics.DocumentsIndexedTotal.WithLabelValues("success").Inc()
        w.logger.Info("Document task completed",
            logger.String("taskId", task.ID),
            logger.Duration("duration", duration),
        )
    }
    w.saveStatus(ctx, final)
    return err
}

func (w *DocumentWorker) saveStatus(ctx context.Context, status *queue.TaskStatus) {
    // the task context may already be expired
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
    defer cancel()
    if err := w.queue.SaveFinalStatus(ctx, status); err != nil {
        w.logger.Error("Failed to save task status",
            logger.String("taskId", status.TaskID),
            logger.String("status", status.Status),
            logger.Error(err),
        )
    }
}

var _ Worker = (*DocumentWorker)(nil)
