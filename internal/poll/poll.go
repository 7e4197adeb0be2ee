// Package poll runs named periodic jobs. Starting a job under a name that
// is already running replaces it, so each name has at most one timer.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest supported period.
const MinInterval = time.Second

type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New returns a running scheduler.
func New() *Scheduler {
	c := cron.New()
	c.Start()
	return &Scheduler{cron: c, entries: make(map[string]cron.EntryID)}
}

// Start runs fn every interval under name, replacing any job already
// registered under it. Intervals below MinInterval are raised to it.
func (s *Scheduler) Start(name string, interval time.Duration, fn func()) {
	if interval < MinInterval {
		interval = MinInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	s.entries[name] = s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
}

// Stop removes the job registered under name. A run already in progress
// is not interrupted.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Running reports whether a job is registered under name.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// Close stops all jobs and waits for running ones to finish or ctx to end.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
