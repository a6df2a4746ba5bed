package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/media-forge/internal/config"
	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/media"
	"github.com/yourusername/media-forge/internal/storage"
)

// queueStack は非同期実行に使う Redis 関連の部品です。
type queueStack struct {
	redis      *redis.Client
	progress   *jobs.ProgressStore
	dispatcher *jobs.Dispatcher
}

func setupQueue(cfg *config.Config, logger *log.Logger) (*queueStack, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_REDIS_URL: %w", err)
	}

	redisClient := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("redis is not reachable: %w", err)
	}

	ttlMinutes := cfg.ProgressTTLMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	dispatcher, err := jobs.NewDispatcher(cfg.QueueRedisURL, cfg.QueueConcurrency, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	return &queueStack{
		redis:      redisClient,
		progress:   jobs.NewProgressStore(redisClient, time.Duration(ttlMinutes)*time.Minute),
		dispatcher: dispatcher,
	}, nil
}

func (q *queueStack) Close() {
	q.dispatcher.Shutdown()
	if err := q.redis.Close(); err != nil {
		log.Printf("failed to close redis client: %v", err)
	}
}

// recoverStaleJobs は前回の異常終了で processing のまま残ったジョブを failed にし、入力ファイルを削除します。
// キューが有効な場合はワーカーが再開するので呼びません。
func recoverStaleJobs(store *storage.Storage, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stale, err := store.FailStaleJobs(ctx, "サーバーの再起動により処理が中断されました。")
	if err != nil {
		logger.Printf("failed to recover stale jobs: %v", err)
		return
	}
	for _, job := range stale {
		if job.InputPath == "" {
			continue
		}
		if err := os.Remove(job.InputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Printf("[JOB %d] failed to remove input %s: %v", job.ID, job.InputPath, err)
		}
	}
	if len(stale) > 0 {
		logger.Printf("marked %d interrupted job(s) as failed", len(stale))
	}
}

// toolCheckHandler は GET /api/test-ffmpeg のハンドラーです。
func toolCheckHandler(toolkit *media.Toolkit) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		tools := toolkit.CheckTools(ctx)
		available := true
		for _, t := range tools {
			available = available && t.Found
		}
		status := http.StatusOK
		if !available {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"available": available,
			"tools":     tools,
		})
	}
}
