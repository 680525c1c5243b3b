package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Memory is a process-local Scheduler driven explicitly through RunDue.
type Memory struct {
	logger *zap.Logger

	mu         sync.Mutex
	pending    map[string]time.Time
	processing map[string]bool
	handlers   map[string]Func
}

var _ Scheduler = (*Memory)(nil)

func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		logger:     logger,
		pending:    make(map[string]time.Time),
		processing: make(map[string]bool),
		handlers:   make(map[string]Func),
	}
}

func (s *Memory) Handle(kind string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = fn
}

func (s *Memory) ScheduleOnce(_ context.Context, job Job, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[job.ID()] = at
	return nil
}

func (s *Memory) Cancel(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, job.ID())
	return nil
}

func (s *Memory) Exists(_ context.Context, job Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pending := s.pending[job.ID()]
	return pending || s.processing[job.ID()], nil
}

// ScheduledAt returns the due time of a pending job.
func (s *Memory) ScheduledAt(job Job) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.pending[job.ID()]
	return at, ok
}

// RunDue executes, in due order, every job due at or before now and returns how many ran.
func (s *Memory) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []string
	for id, at := range s.pending {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if s.pending[due[i]].Equal(s.pending[due[j]]) {
			return due[i] < due[j]
		}
		return s.pending[due[i]].Before(s.pending[due[j]])
	})
	for _, id := range due {
		delete(s.pending, id)
		s.processing[id] = true
	}
	s.mu.Unlock()

	for _, id := range due {
		s.execute(ctx, id)
	}
	return len(due)
}

func (s *Memory) execute(ctx context.Context, id string) {
	defer func() {
		s.mu.Lock()
		delete(s.processing, id)
		s.mu.Unlock()
	}()

	job, err := parseJobID(id)
	if err != nil {
		s.logger.Error("dropping job", zap.Error(err))
		return
	}

	s.mu.Lock()
	fn, ok := s.handlers[job.Kind]
	s.mu.Unlock()
	if !ok {
		s.logger.Error("no handler for job", zap.String("job", id))
		return
	}

	if err := runJob(ctx, fn, job); err != nil {
		s.logger.Error("job failed", zap.String("job", id), zap.Error(err))
	}
}
