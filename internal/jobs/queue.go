package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeProcess は記録済みジョブを実行するタスクです。
	TaskTypeProcess = "media:process"
	queueName       = "media"
)

// TaskPayload はタスクのペイロードです。入力はジョブの行から復元します。
type TaskPayload struct {
	JobID int64 `json:"jobId"`
}

// Dispatcher は Asynq でジョブをバックグラウンド実行します。
type Dispatcher struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *log.Logger
}

// NewDispatcher は Redis URL から Dispatcher を作成します。
func NewDispatcher(redisURL string, concurrency int, logger *log.Logger) (*Dispatcher, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		client: asynq.NewClient(opt),
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
		}),
		mux:    asynq.NewServeMux(),
		logger: logger,
	}, nil
}

// Schedule はジョブをキューに投入します。
func (d *Dispatcher) Schedule(ctx context.Context, jobID int64) error {
	if jobID <= 0 {
		return fmt.Errorf("jobID is required")
	}
	body, err := json.Marshal(TaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeProcess, body, asynq.Queue(queueName))
	_, err = d.client.EnqueueContext(ctx, task, asynq.MaxRetry(1))
	return err
}

// Start はワーカーをバックグラウンドで起動します。
func (d *Dispatcher) Start(m *Manager) {
	d.mux.HandleFunc(TaskTypeProcess, func(ctx context.Context, task *asynq.Task) error {
		return handleProcessTask(ctx, m, task)
	})
	go func() {
		if err := d.server.Run(d.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			d.logger.Printf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はワーカーとクライアントを停止します。
func (d *Dispatcher) Shutdown() {
	d.server.Shutdown()
	if err := d.client.Close(); err != nil {
		d.logger.Printf("failed to close asynq client: %v", err)
	}
}

// handleProcessTask はジョブを実行します。ジョブの失敗は記録済みなので再試行しません。
func handleProcessTask(ctx context.Context, m *Manager, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID <= 0 {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}

	_, err := m.Resume(ctx, payload.JobID)
	var jobErr *Error
	if errors.As(err, &jobErr) && jobErr.Code == CodeStorageError {
		return err
	}
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}
