package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/clearspend/backend/internal/clock"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	stateScheduled  = "SCHEDULED"
	stateProcessing = "PROCESSING"

	pollBatch = 100
)

// RedisOptions bound the life of a job's state key so that a poller dying mid-job cannot leave the
// job looking outstanding forever.
type RedisOptions struct {
	// ProcessingTTL is how long a claimed job counts as outstanding.
	ProcessingTTL time.Duration
	// ScheduledGrace is added to the time until a job is due.
	ScheduledGrace time.Duration
}

// Redis keeps due jobs in a sorted set scored by due time in unix milliseconds, and the state of
// each outstanding job under its own key. Pollers claim a job by removing it from the set, so
// several instances can poll the same keys.
type Redis struct {
	client *redis.Client
	prefix string
	opts   RedisOptions
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Func
}

var _ Scheduler = (*Redis)(nil)

func NewRedis(client *redis.Client, prefix string, opts RedisOptions, clk clock.Clock, logger *zap.Logger) *Redis {
	return &Redis{
		client:   client,
		prefix:   prefix,
		opts:     opts,
		clock:    clk,
		logger:   logger,
		handlers: make(map[string]Func),
	}
}

func (s *Redis) dueKey() string {
	return s.prefix + ":due"
}

func (s *Redis) stateKey(id string) string {
	return s.prefix + ":job:" + id
}

func (s *Redis) Handle(kind string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = fn
}

func (s *Redis) scheduledTTL(at time.Time) time.Duration {
	until := at.Sub(s.clock.Now())
	if until < 0 {
		until = 0
	}
	return until + s.opts.ScheduledGrace
}

func (s *Redis) ScheduleOnce(ctx context.Context, job Job, at time.Time) error {
	id := job.ID()
	ttl := s.scheduledTTL(at)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.dueKey(), &redis.Z{Score: float64(at.UnixMilli()), Member: id})
		pipe.Set(ctx, s.stateKey(id), stateScheduled, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	s.logger.Info("job scheduled", zap.String("job", id), zap.Time("at", at))
	return nil
}

func (s *Redis) Cancel(ctx context.Context, job Job) error {
	id := job.ID()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.dueKey(), id)
		pipe.Del(ctx, s.stateKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

func (s *Redis) Exists(ctx context.Context, job Job) (bool, error) {
	n, err := s.client.Exists(ctx, s.stateKey(job.ID())).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", job.ID(), err)
	}
	return n > 0, nil
}

// Run polls for due jobs every interval until ctx is done.
func (s *Redis) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunDue(ctx); err != nil {
				s.logger.Error("scheduler poll failed", zap.Error(err))
			}
		}
	}
}

// RunDue executes every job due at the current time and returns how many ran.
func (s *Redis) RunDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: pollBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("poll due jobs: %w", err)
	}

	ran := 0
	for _, id := range ids {
		claimed, err := s.claim(ctx, id)
		if err != nil {
			return ran, err
		}
		if !claimed {
			continue
		}
		s.execute(ctx, id)
		ran++
	}
	return ran, nil
}

func (s *Redis) claim(ctx context.Context, id string) (bool, error) {
	removed, err := s.client.ZRem(ctx, s.dueKey(), id).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	if removed == 0 {
		return false, nil
	}
	if err := s.client.Set(ctx, s.stateKey(id), stateProcessing, s.opts.ProcessingTTL).Err(); err != nil {
		return false, fmt.Errorf("mark %s processing: %w", id, err)
	}
	return true, nil
}

func (s *Redis) execute(ctx context.Context, id string) {
	defer func() {
		if err := s.client.Del(ctx, s.stateKey(id)).Err(); err != nil {
			s.logger.Error("failed to clear job state", zap.String("job", id), zap.Error(err))
		}
	}()

	job, err := parseJobID(id)
	if err != nil {
		s.logger.Error("dropping job", zap.Error(err))
		return
	}

	s.mu.RLock()
	fn, ok := s.handlers[job.Kind]
	s.mu.RUnlock()
	if !ok {
		s.logger.Error("no handler for job", zap.String("job", id))
		return
	}

	if err := runJob(ctx, fn, job); err != nil {
		s.logger.Error("job failed", zap.String("job", id), zap.Error(err))
		return
	}
	s.logger.Info("job completed", zap.String("job", id))
}

func runJob(ctx context.Context, fn Func, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID(), r)
		}
	}()
	return fn(ctx, job.Key)
}
