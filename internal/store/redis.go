package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/pipeline"
)

const (
	redisJobPrefix  = "pv:job:"
	redisLockPrefix = "pv:lock:"
)

// releaseScript deletes a lock only while it still names the given job.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore implements JobStore on Redis. The lock is a SET NX key; job
// transitions use WATCH/MULTI so concurrent updates cannot both win.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

var _ JobStore = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

// ConnectRedis parses url, connects and pings.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) Begin(ctx context.Context, job *Job) error {
	now := s.now()
	job.Status = StatusPending
	job.CreatedAt, job.UpdatedAt = now, now

	lockKey := redisLockPrefix + LockKey(job.StudentID, job.VolunteerID)
	ok, err := s.rdb.SetNX(ctx, lockKey, job.ID, JobTTL).Result()
	if err != nil {
		return fmt.Errorf("SETNX %s: %w", lockKey, err)
	}
	if !ok {
		return ErrInProgress
	}

	if err := s.save(ctx, job); err != nil {
		releaseScript.Run(ctx, s.rdb, []string{lockKey}, job.ID)
		return err
	}
	log.Debug().Str("jobId", job.ID).Str("lock", lockKey).Msg("Job lock acquired")
	return nil
}

func (s *RedisStore) MarkRunning(ctx context.Context, id string) error {
	_, err := s.transition(ctx, id, StatusProcessing, func(*Job) {})
	return err
}

func (s *RedisStore) Complete(ctx context.Context, id string, out *pipeline.Output) error {
	_, err := s.transition(ctx, id, StatusDone, func(j *Job) { j.Output = out })
	return err
}

func (s *RedisStore) Fail(ctx context.Context, id, reason string) error {
	_, err := s.transition(ctx, id, StatusFailed, func(j *Job) { j.Error = reason })
	return err
}

func (s *RedisStore) transition(ctx context.Context, id, to string, apply func(*Job)) (*Job, error) {
	key := redisJobPrefix + id
	var job *Job

	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canTransition(current.Status, to) {
			return transitionError(id, current.Status, to)
		}
		current.Status = to
		current.UpdatedAt = s.now()
		apply(current)

		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, JobTTL)
			return nil
		})
		job = current
		return err
	}

	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("job %s changed concurrently: %w", id, ErrInvalidTransition)
		}
		return nil, err
	}

	if job.Terminal() {
		lockKey := redisLockPrefix + LockKey(job.StudentID, job.VolunteerID)
		if err := releaseScript.Run(ctx, s.rdb, []string{lockKey}, id).Err(); err != nil {
			log.Warn().Err(err).Str("lock", lockKey).Str("jobId", id).Msg("Failed to release job lock")
		}
	}
	log.Debug().Str("jobId", id).Str("status", to).Msg("Job status updated")
	return job, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	return s.load(ctx, s.rdb, id)
}

func (s *RedisStore) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.rdb.Set(ctx, redisJobPrefix+job.ID, data, JobTTL).Err(); err != nil {
		return fmt.Errorf("SET job %s: %w", job.ID, err)
	}
	return nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*Job, error) {
	data, err := c.Get(ctx, redisJobPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GET job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}
