package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/clearspend/backend/internal/clock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	t0   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	job  = Job{Kind: "negative-balance", Key: "b1"}
	opts = RedisOptions{ProcessingTTL: time.Minute, ScheduledGrace: time.Hour}
)

func newRedisScheduler(t *testing.T) (*Redis, *clock.Fixed, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clk := clock.NewFixed(t0)
	return NewRedis(client, "scheduler", opts, clk, zap.NewNop()), clk, mr
}

func TestParseJobID(t *testing.T) {
	parsed, err := parseJobID(job.ID())
	require.NoError(t, err)
	assert.Equal(t, job, parsed)

	_, err = parseJobID("no-separator")
	assert.Error(t, err)
}

func TestRedis_ScheduleExistsCancel(t *testing.T) {
	s, _, mr := newRedisScheduler(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, job)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.ScheduleOnce(ctx, job, t0.Add(time.Hour)))
	exists, err = s.Exists(ctx, job)
	require.NoError(t, err)
	assert.True(t, exists)

	score, err := mr.ZScore("scheduler:due", job.ID())
	require.NoError(t, err)
	assert.Equal(t, float64(t0.Add(time.Hour).UnixMilli()), score)
	assert.Equal(t, time.Hour+opts.ScheduledGrace, mr.TTL("scheduler:job:"+job.ID()))

	require.NoError(t, s.Cancel(ctx, job))
	exists, err = s.Exists(ctx, job)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, mr.Exists("scheduler:job:"+job.ID()))
}

func TestRedis_RunDue(t *testing.T) {
	s, clk, _ := newRedisScheduler(t)
	ctx := context.Background()

	var ran []string
	s.Handle(job.Kind, func(ctx context.Context, key string) error {
		exists, err := s.Exists(ctx, Job{Kind: job.Kind, Key: key})
		require.NoError(t, err)
		assert.True(t, exists, "a processing job still exists")
		ran = append(ran, key)
		return nil
	})

	require.NoError(t, s.ScheduleOnce(ctx, job, t0.Add(time.Hour)))

	n, err := s.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(time.Hour)
	n, err = s.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b1"}, ran)

	exists, err := s.Exists(ctx, job)
	require.NoError(t, err)
	assert.False(t, exists, "completed jobs are removed")

	n, err = s.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedis_RunDue_FailedJobIsTerminal(t *testing.T) {
	s, _, _ := newRedisScheduler(t)
	ctx := context.Background()

	s.Handle(job.Kind, func(ctx context.Context, key string) error { return errors.New("boom") })
	require.NoError(t, s.ScheduleOnce(ctx, job, t0))

	n, err := s.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := s.Exists(ctx, job)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedis_ExistsError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedis(client, "scheduler", opts, clock.NewFixed(t0), zap.NewNop())

	mock.ExpectExists("scheduler:job:" + job.ID()).SetErr(errors.New("connection refused"))

	_, err := s.Exists(context.Background(), job)
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_RunDue_PollError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedis(client, "scheduler", opts, clock.NewFixed(t0), zap.NewNop())

	mock.ExpectZRangeByScore("scheduler:due", &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "1709294400000",
		Count: pollBatch,
	}).SetErr(errors.New("timeout"))

	_, err := s.RunDue(context.Background())
	assert.ErrorContains(t, err, "poll due jobs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory_RunDue(t *testing.T) {
	s := NewMemory(zap.NewNop())
	ctx := context.Background()

	var ran []string
	s.Handle(job.Kind, func(ctx context.Context, key string) error {
		ran = append(ran, key)
		return nil
	})

	require.NoError(t, s.ScheduleOnce(ctx, job, t0.Add(time.Hour)))
	exists, _ := s.Exists(ctx, job)
	assert.True(t, exists)

	at, ok := s.ScheduledAt(job)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), at)

	assert.Zero(t, s.RunDue(ctx, t0))
	assert.Equal(t, 1, s.RunDue(ctx, t0.Add(time.Hour)))
	assert.Equal(t, []string{"b1"}, ran)

	exists, _ = s.Exists(ctx, job)
	assert.False(t, exists)
}

func TestMemory_Cancel(t *testing.T) {
	s := NewMemory(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.ScheduleOnce(ctx, job, t0))
	require.NoError(t, s.Cancel(ctx, job))
	assert.Zero(t, s.RunDue(ctx, t0.Add(time.Hour)))
}

func TestRedis_AbandonedJobStateExpires(t *testing.T) {
	s, _, mr := newRedisScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.ScheduleOnce(ctx, job, t0))
	claimed, err := s.claim(ctx, job.ID())
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, opts.ProcessingTTL, mr.TTL("scheduler:job:"+job.ID()))

	// The poller died before clearing the state.
	mr.FastForward(opts.ProcessingTTL)
	exists, err := s.Exists(ctx, job)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.ScheduleOnce(ctx, job, t0.Add(time.Hour)))
	exists, err = s.Exists(ctx, job)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedis_StateKeyTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedis(client, "scheduler", opts, clock.NewFixed(t0), zap.NewNop())
	ctx := context.Background()
	stateKey := "scheduler:job:" + job.ID()

	mock.ExpectTxPipeline()
	mock.ExpectZAdd("scheduler:due", &redis.Z{Score: float64(t0.Add(2 * time.Hour).UnixMilli()), Member: job.ID()}).SetVal(1)
	mock.ExpectSet(stateKey, stateScheduled, 2*time.Hour+opts.ScheduledGrace).SetVal("OK")
	mock.ExpectTxPipelineExec()
	require.NoError(t, s.ScheduleOnce(ctx, job, t0.Add(2*time.Hour)))

	// Overdue jobs keep their state for the grace period only.
	mock.ExpectTxPipeline()
	mock.ExpectZAdd("scheduler:due", &redis.Z{Score: float64(t0.Add(-time.Hour).UnixMilli()), Member: job.ID()}).SetVal(1)
	mock.ExpectSet(stateKey, stateScheduled, opts.ScheduledGrace).SetVal("OK")
	mock.ExpectTxPipelineExec()
	require.NoError(t, s.ScheduleOnce(ctx, job, t0.Add(-time.Hour)))

	mock.ExpectZRem("scheduler:due", job.ID()).SetVal(1)
	mock.ExpectSet(stateKey, stateProcessing, opts.ProcessingTTL).SetVal("OK")
	claimed, err := s.claim(ctx, job.ID())
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.NoError(t, mock.ExpectationsWereMet())
}
