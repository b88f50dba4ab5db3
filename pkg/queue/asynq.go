package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/hibiken/asynq"
    "github.com/redis/go-redis/v9"

    "github.com/feichai0017/document-rag/pkg/logger"
)

const (
    queueName = "default"
    statusTTL = 24 * time.Hour
)

// QueueConfig 定义队列配置
type QueueConfig struct {
    RedisAddr      string
    RedisPassword  string
    RedisDB        int
    ProcessTimeout time.Duration
    Concurrency    int
}

// AsynqQueue 实现. Statuses are kept in Redis under task_status:<id>.
type AsynqQueue struct {
    client    *asynq.Client
    inspector *asynq.Inspector
    server    *asynq.Server
    redis     *redis.Client
    timeout   time.Duration
    logger    logger.Logger

    stopOnce sync.Once
    stopErr  error
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *QueueConfig, log logger.Logger) (*AsynqQueue, error) {
    if cfg.ProcessTimeout <= 0 {
        cfg.ProcessTimeout = 10 * time.Minute
    }
    if cfg.Concurrency <= 0 {
        cfg.Concurrency = 2
    }
    log = log.Named("queue")

    redisOpt := asynq.RedisClientOpt{
        Addr:     cfg.RedisAddr,
        Password: cfg.RedisPassword,
        DB:       cfg.RedisDB,
    }

    // 创建 Redis 客户端
    redisClient := redis.NewClient(&redis.Options{
        Addr:     cfg.RedisAddr,
        Password: cfg.RedisPassword,
        DB:       cfg.RedisDB,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := redisClient.Ping(ctx).Err(); err != nil {
        redisClient.Close()
        return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
    }

    server := asynq.NewServer(redisOpt, asynq.Config{
        Concurrency: cfg.Concurrency,
        Queues:      map[string]int{queueName: 1},
        Logger:      asynqLogger{log},
    })

    return &AsynqQueue{
        client:    asynq.NewClient(redisOpt),
        inspector: asynq.NewInspector(redisOpt),
        server:    server,
        redis:     redisClient,
        timeout:   cfg.ProcessTimeout,
        logger:    log,
    }, nil
}

// Enqueue 将任务加入队列. Failed tasks are archived, not retried.
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
    // 序列化整个任务
    payload, err := json.Marshal(task)
    if err != nil {
        return fmt.Errorf("failed to marshal task: %w", err)
    }

    t := asynq.NewTask(task.Type, payload,
        asynq.MaxRetry(0),
        asynq.Timeout(q.timeout),
        asynq.TaskID(task.ID),
        asynq.Queue(queueName),
    )
    if _, err := q.client.EnqueueContext(ctx, t); err != nil {
        return fmt.Errorf("failed to enqueue task: %w", err)
    }

    if err := q.SaveFinalStatus(ctx, &TaskStatus{TaskID: task.ID, Status: StatusPending, StartedAt: time.Now()}); err != nil {
        q.logger.Warn("Failed to save pending status", logger.String("taskId", task.ID), logger.Error(err))
    }
    return nil
}

// Start runs the asynq server in the background.
func (q *AsynqQueue) Start(handler Handler) error {
    mux := asynq.NewServeMux()
    mux.HandleFunc(TaskTypeDocumentIndex, func(ctx context.Context, t *asynq.Task) error {
        // 反序列化任务
        var task Task
        if err := json.Unmarshal(t.Payload(), &task); err != nil {
            q.logger.Error("Failed to unmarshal task",
                logger.Error(err),
                logger.String("payload", string(t.Payload())),
            )
            return fmt.Errorf("failed to unmarshal task: %w: %w", err, asynq.SkipRetry)
        }
        return handler(ctx, &task)
    })
    if err := q.server.Start(mux); err != nil {
        return fmt.Errorf("failed to start asynq server: %w", err)
    }
    return nil
}

// Stop shuts the server down and closes the Redis connections. Safe to call twice.
func (q *AsynqQueue) Stop() error {
    q.stopOnce.Do(func() {
        q.server.Shutdown()
        q.stopErr = errors.Join(q.client.Close(), q.inspector.Close(), q.redis.Close())
    })
    return q.stopErr
}

// GetTaskStatus 获取任务状态
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
    // 首先尝试从 Redis 获取状态
    data, err := q.redis.Get(ctx, statusKey(taskID)).Bytes()
    if err != nil && !errors.Is(err, redis.Nil) {
        return nil, fmt.Errorf("failed to get status from redis: %w", err)
    }
    if err == nil {
        var status TaskStatus
        if err := json.Unmarshal(data, &status); err != nil {
            return nil, fmt.Errorf("failed to unmarshal status: %w", err)
        }
        return &status, nil
    }

    // 如果 Redis 中没有，从队列中查找
    info, err := q.inspector.GetTaskInfo(queueName, taskID)
    if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
        return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
    }
    if err != nil {
        return nil, fmt.Errorf("failed to inspect task: %w", err)
    }
    return convertAsynqStatus(info), nil
}

// SaveFinalStatus 保存任务状态, 24 小时后过期
func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
    data, err := json.Marshal(status)
    if err != nil {
        return fmt.Errorf("failed to marshal status: %w", err)
    }
    if err := q.redis.Set(ctx, statusKey(status.TaskID), data, statusTTL).Err(); err != nil {
        return fmt.Errorf("failed to save status: %w", err)
    }
    return nil
}

func statusKey(taskID string) string {
    return "task_status:" + taskID
}

// convertAsynqStatus 将 asynq 状态转换为 TaskStatus
func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
    status := &TaskStatus{
        TaskID:    info.ID,
        StartedAt: info.NextProcessAt,
    }

    switch info.State {
    case asynq.TaskStatePending, asynq.TaskStateScheduled:
        status.Status = StatusPending
    case asynq.TaskStateActive:
        status.Status = StatusRunning
        status.Progress = 0.5
    case asynq.TaskStateCompleted:
        status.Status = StatusCompleted
        status.Progress = 1.0
        status.FinishedAt = info.CompletedAt
    default:
        status.Status = StatusFailed
        status.Error = info.LastErr
        status.FinishedAt = info.LastFailedAt
    }
    return status
}

// asynqLogger routes asynq's own logs through the service logger.
type asynqLogger struct {
    l logger.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal(fmt.Sprint(args...)) }

var _ Queue = (*AsynqQueue)(nil)
