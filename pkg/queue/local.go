package queue

import (
    "context"
    "fmt"
    "sync"
    "time"

    "golang.org/x/sync/semaphore"

    "github.com/feichai0017/document-rag/pkg/logger"
)

// LocalQueue runs tasks in goroutines of the current process. At most
// Concurrency tasks run at once; the rest wait for a slot.
type LocalQueue struct {
    sem     *semaphore.Weighted
    timeout time.Duration
    logger  logger.Logger

    mu       sync.Mutex
    handler  Handler
    stopped  bool
    statuses map[string]*TaskStatus
    wg       sync.WaitGroup
}

func NewLocalQueue(concurrency int, timeout time.Duration, log logger.Logger) *LocalQueue {
    if concurrency <= 0 {
        concurrency = 2
    }
    if timeout <= 0 {
        timeout = 10 * time.Minute
    }
    return &LocalQueue{
        sem:      semaphore.NewWeighted(int64(concurrency)),
        timeout:  timeout,
        logger:   log.Named("queue"),
        statuses: make(map[string]*TaskStatus),
    }
}

func (q *LocalQueue) Start(handler Handler) error {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.stopped {
        return ErrStopped
    }
    q.handler = handler
    return nil
}

// Stop rejects new tasks and waits for queued and running ones.
func (q *LocalQueue) Stop() error {
    q.mu.Lock()
    q.stopped = true
    q.mu.Unlock()
    q.wg.Wait()
    return nil
}

func (q *LocalQueue) Enqueue(ctx context.Context, task *Task) error {
    q.mu.Lock()
    if q.stopped {
        q.mu.Unlock()
        return ErrStopped
    }
    if q.handler == nil {
        q.mu.Unlock()
        return ErrNotStarted
    }
    handler := q.handler
    q.pruneLocked(time.Now())
    q.statuses[task.ID] = &TaskStatus{TaskID: task.ID, Status: StatusPending, StartedAt: time.Now()}
    q.wg.Add(1)
    q.mu.Unlock()

    go q.run(handler, task)
    return nil
}

func (q *LocalQueue) run(handler Handler, task *Task) {
    defer q.wg.Done()

    // tasks outlive the request that enqueued them
    if err := q.sem.Acquire(context.Background(), 1); err != nil {
        return
    }
    defer q.sem.Release(1)

    ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
    defer cancel()

    err := q.safeRun(ctx, handler, task)
    if err != nil {
        q.logger.Error("Task failed",
            logger.String("taskId", task.ID),
            logger.String("type", task.Type),
            logger.Error(err),
        )
    }
}

func (q *LocalQueue) safeRun(ctx context.Context, handler Handler, task *Task) (err error) {
    defer func() {
        if r := recover(); r != nil {
            err = fmt.Errorf("task panicked: %v", r)
            q.SaveFinalStatus(ctx, &TaskStatus{
                TaskID:     task.ID,
                Status:     StatusFailed,
                Error:      err.Error(),
                FinishedAt: time.Now(),
            })
        }
    }()
    return handler(ctx, task)
}

func (q *LocalQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
    q.mu.Lock()
    defer q.mu.Unlock()
    st, ok := q.statuses[taskID]
    if !ok {
        return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
    }
    cp := *st
    return &cp, nil
}

func (q *LocalQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
    q.mu.Lock()
    defer q.mu.Unlock()
    cp := *status
    if prev, ok := q.statuses[status.TaskID]; ok && cp.StartedAt.IsZero() {
        cp.StartedAt = prev.StartedAt
    }
    q.statuses[status.TaskID] = &cp
    return nil
}

// pruneLocked forgets finished statuses after statusTTL, as Redis expiry does for AsynqQueue.
func (q *LocalQueue) pruneLocked(now time.Time) {
    for id, st := range q.statuses {
        if !st.FinishedAt.IsZero() && now.Sub(st.FinishedAt) > statusTTL {
            delete(q.statuses, id)
        }
    }
}

var _ Queue = (*LocalQueue)(nil)
