package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	progressKeyPrefix = "progress:"
	maxWatchRetries   = 5
)

// Progress はジョブの途中経過です。ジョブの正はデータベースで、こちらは補助的な情報です。
type Progress struct {
	JobID     int64     `json:"jobId"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProgressStore は進捗を Redis に保存します。
type ProgressStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewProgressStore は ProgressStore を作成します。
func NewProgressStore(rdb *redis.Client, ttl time.Duration) *ProgressStore {
	return &ProgressStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Get は進捗を取得します。存在しない場合は nil, nil を返します。
func (s *ProgressStore) Get(ctx context.Context, jobID int64) (*Progress, error) {
	if jobID <= 0 {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, progressKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Update は進捗を書き込みます。開始時刻は最初の書き込みのものを保ちます。
func (s *ProgressStore) Update(ctx context.Context, jobID int64, stage string, percent int) error {
	key := progressKey(jobID)
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			now := s.now().UTC()
			p := Progress{JobID: jobID, StartedAt: now}

			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				if err := json.Unmarshal(data, &p); err != nil {
					return err
				}
			case !errors.Is(err, redis.Nil):
				return err
			}

			p.Stage = stage
			p.Percent = percent
			p.UpdatedAt = now
			payload, err := json.Marshal(&p)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("progress update for job %d kept conflicting", jobID)
}

func progressKey(jobID int64) string {
	return fmt.Sprintf("%s%d", progressKeyPrefix, jobID)
}
