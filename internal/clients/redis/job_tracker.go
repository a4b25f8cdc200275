package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pkg/ctxutil"
)

// JobTracker mirrors job status and progress for external polling. Writes
// fail silently (logged) because the tracker is an observability aid; the
// persisted mappings are the durable record.
type JobTracker interface {
	SetStatus(ctx context.Context, jobID string, status string)
	GetStatus(ctx context.Context, jobID string) (string, bool)
	SetProgress(ctx context.Context, jobID string, progress int)
	GetProgress(ctx context.Context, jobID string) int
	SetResult(ctx context.Context, jobID string, data any)
	GetResult(ctx context.Context, jobID string) ([]byte, bool)
	IncrCompleted(ctx context.Context, jobID string)

	Set(ctx context.Context, key, value string, ttl time.Duration)
	Get(ctx context.Context, key string) (string, bool)

	Close() error
}

const (
	// Polling keys expire faster than cached result payloads.
	pollingTTL = time.Hour
	resultTTL  = 24 * time.Hour
)

type jobTracker struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewJobTracker(log *logger.Logger) (JobTracker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		host := strings.TrimSpace(os.Getenv("REDIS_HOST"))
		if host == "" {
			host = "localhost"
		}
		port := strings.TrimSpace(os.Getenv("REDIS_PORT"))
		if port == "" {
			port = "6379"
		}
		addr = host + ":" + port
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &jobTracker{
		log: log.With("service", "JobTracker"),
		rdb: rdb,
	}, nil
}

func statusKey(jobID string) string   { return "analysis:" + jobID + ":status" }
func progressKey(jobID string) string { return "analysis:" + jobID + ":progress" }
func dataKey(jobID string) string     { return "analysis:" + jobID + ":data" }
func completedKey(jobID string) string {
	return "analysis:" + jobID + ":completed"
}

func (t *jobTracker) SetStatus(ctx context.Context, jobID string, status string) {
	ctx = ctxutil.Default(ctx)
	if err := t.rdb.Set(ctx, statusKey(jobID), status, pollingTTL).Err(); err != nil {
		t.log.Error("Failed to set job status", "job_id", jobID, "status", status, "error", err)
		return
	}
	t.log.Info("Job status updated", "job_id", jobID, "status", status)
}

func (t *jobTracker) GetStatus(ctx context.Context, jobID string) (string, bool) {
	ctx = ctxutil.Default(ctx)
	v, err := t.rdb.Get(ctx, statusKey(jobID)).Result()
	if err != nil {
		if err != goredis.Nil {
			t.log.Error("Failed to get job status", "job_id", jobID, "error", err)
		}
		return "", false
	}
	return v, true
}

func (t *jobTracker) SetProgress(ctx context.Context, jobID string, progress int) {
	ctx = ctxutil.Default(ctx)
	if err := t.rdb.Set(ctx, progressKey(jobID), strconv.Itoa(progress), pollingTTL).Err(); err != nil {
		t.log.Error("Failed to set job progress", "job_id", jobID, "progress", progress, "error", err)
	}
}

func (t *jobTracker) GetProgress(ctx context.Context, jobID string) int {
	ctx = ctxutil.Default(ctx)
	v, err := t.rdb.Get(ctx, progressKey(jobID)).Result()
	if err != nil {
		if err != goredis.Nil {
			t.log.Error("Failed to get job progress", "job_id", jobID, "error", err)
		}
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func (t *jobTracker) SetResult(ctx context.Context, jobID string, data any) {
	ctx = ctxutil.Default(ctx)
	raw, err := json.Marshal(data)
	if err != nil {
		t.log.Error("Failed to marshal job result", "job_id", jobID, "error", err)
		return
	}
	if err := t.rdb.Set(ctx, dataKey(jobID), raw, resultTTL).Err(); err != nil {
		t.log.Error("Failed to set job result", "job_id", jobID, "error", err)
	}
}

func (t *jobTracker) GetResult(ctx context.Context, jobID string) ([]byte, bool) {
	ctx = ctxutil.Default(ctx)
	raw, err := t.rdb.Get(ctx, dataKey(jobID)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			t.log.Error("Failed to get job result", "job_id", jobID, "error", err)
		}
		return nil, false
	}
	return raw, true
}

// IncrCompleted bumps the per-job completed-item counter workers write as
// they finish.
func (t *jobTracker) IncrCompleted(ctx context.Context, jobID string) {
	ctx = ctxutil.Default(ctx)
	key := completedKey(jobID)
	pipe := t.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, pollingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Error("Failed to increment completed counter", "job_id", jobID, "error", err)
	}
}

func (t *jobTracker) Set(ctx context.Context, key, value string, ttl time.Duration) {
	ctx = ctxutil.Default(ctx)
	if ttl <= 0 {
		ttl = pollingTTL
	}
	if err := t.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		t.log.Error("Failed to set tracker key", "key", key, "error", err)
	}
}

func (t *jobTracker) Get(ctx context.Context, key string) (string, bool) {
	ctx = ctxutil.Default(ctx)
	v, err := t.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != goredis.Nil {
			t.log.Error("Failed to get tracker key", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (t *jobTracker) Close() error {
	if t == nil || t.rdb == nil {
		return nil
	}
	return t.rdb.Close()
}
