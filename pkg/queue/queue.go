// pkg/queue/queue.go
package queue

import (
    "context"
    "errors"
    "time"
)

// TaskType 定义任务类型
const (
    TaskTypeDocumentIndex = "document:index"
)

// 任务状态
const (
    StatusPending   = "pending"
    StatusRunning   = "running"
    StatusCompleted = "completed"
    StatusFailed    = "failed"
)

// Payload keys of a document:index task.
const (
    PayloadPath     = "path"
    PayloadFilename = "filename"
    PayloadDocID    = "doc_id"
)

var (
    ErrTaskNotFound = errors.New("task not found")
    ErrNotStarted   = errors.New("queue not started")
    ErrStopped      = errors.New("queue stopped")
)

// Queue 接口定义. Tasks are not retried and cannot be cancelled.
type Queue interface {
    Enqueue(ctx context.Context, task *Task) error
    GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
    SaveFinalStatus(ctx context.Context, status *TaskStatus) error
    // Start 开始消费任务
    Start(handler Handler) error
    Stop() error
}

// Handler processes one task. A returned error is final.
type Handler func(ctx context.Context, task *Task) error

// Task 定义任务结构
type Task struct {
    ID        string            `json:"id"`
    Type      string            `json:"type"`
    Payload   map[string]string `json:"payload"`
    Metadata  map[string]string `json:"metadata,omitempty"`
    CreatedAt time.Time         `json:"createdAt"`
}

// NewIndexTask builds the task that indexes an uploaded document. The task id is the doc id.
func NewIndexTask(docID, path, filename string) *Task {
    return &Task{
        ID:   docID,
        Type: TaskTypeDocumentIndex,
        Payload: map[string]string{
            PayloadPath:     path,
            PayloadFilename: filename,
            PayloadDocID:    docID,
        },
        CreatedAt: time.Now(),
    }
}

// TaskStatus 定义任务状态
type TaskStatus struct {
    TaskID     string    `json:"taskId"`
    Status     string    `json:"status"`
    Progress   float64   `json:"progress"`
    Error      string    `json:"error,omitempty"`
    StartedAt  time.Time `json:"startedAt"`
    FinishedAt time.Time `json:"finishedAt,omitempty"`
}
