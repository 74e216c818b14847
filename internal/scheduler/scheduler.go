// Package scheduler publishes periodic wake events to plugins.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrei-cloud/go_pluginhost/internal/config"
	"github.com/andrei-cloud/go_pluginhost/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Publisher delivers an event to every subscriber.
type Publisher interface {
	PublishAll(ctx context.Context, event string, args ...any)
}

// Scheduler runs one cron entry per configured wake event.
type Scheduler struct {
	cron    *cron.Cron
	pub     Publisher
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	events  map[string]cron.EntryID
	running bool
}

// New returns a scheduler publishing to pub. Entries are added with Add.
func New(pub Publisher, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	cl := cronLogger{log: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		pub:     pub,
		metrics: m,
		log:     logger,
		events:  make(map[string]cron.EntryID),
	}
}

// FromConfig builds a scheduler with every wake entry of cfg.
func FromConfig(entries []config.WakeEntry, pub Publisher, m *metrics.Metrics, logger zerolog.Logger) (*Scheduler, error) {
	s := New(pub, m, logger)
	for _, e := range entries {
		if err := s.Add(e.Event, e.Spec); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Add schedules event on spec. An event can be scheduled once.
func (s *Scheduler) Add(event, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event]; ok {
		return fmt.Errorf("wake event %q already scheduled", event)
	}

	id, err := s.cron.AddFunc(spec, func() { s.Trigger(context.Background(), event) })
	if err != nil {
		return fmt.Errorf("schedule %q on %q: %w", event, spec, err)
	}
	s.events[event] = id

	return nil
}

// Events returns the scheduled events.
func (s *Scheduler) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.events))
	for e := range s.events {
		out = append(out, e)
	}

	return out
}

// Trigger publishes event immediately.
func (s *Scheduler) Trigger(ctx context.Context, event string) {
	s.log.Debug().Str("event", "wake").Str("wake_event", event).Msg("publishing wake event")
	s.metrics.RecordWake(event)
	s.pub.PublishAll(ctx, event)
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info().Str("event", "scheduler_started").Int("entries", len(s.events)).Msg("scheduler started")
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Str("event", "scheduler_stop_timeout").Msg("wake jobs still running at shutdown")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
