// Package daemon implements the sampling loop that drives observation,
// aggregation and storage.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/aggregate"
	"github.com/WWWonderer/activity-logger/internal/domain"
)

// SamplerConfig holds sampling loop configuration.
type SamplerConfig struct {
	SampleInterval    time.Duration // How often to poll the foreground window
	FlushInterval     time.Duration // Max elapsed time between flushes
	HeartbeatInterval time.Duration // How often to update the registry heartbeat
	MaxBufferRows     int           // Flush when the sample buffer reaches this size
}

// DefaultSamplerConfig returns default sampling configuration.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		SampleInterval:    10 * time.Second,
		FlushInterval:     60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxBufferRows:     60,
	}
}

// Sampler is the tracking daemon. Each tick it polls the idle probe and
// window observer, buffers the resulting sample, and flushes the buffer
// through the aggregator into the store when either the row-count or the
// elapsed-time threshold is hit. The whole pipeline runs on one
// goroutine; there is exactly one writer per device.
type Sampler struct {
	config     SamplerConfig
	observer   domain.WindowObserver
	idleProbe  domain.IdleProbe
	aggregator *aggregate.Aggregator
	store      domain.SessionStore
	registry   domain.TrackerRegistry
	info       domain.TrackerInfo
	logger     *zap.Logger

	now func() time.Time

	buffer    []domain.Sample
	pending   []domain.Session
	lastFlush time.Time
	wasIdle   bool
}

// NewSampler creates a new sampling daemon.
func NewSampler(
	config SamplerConfig,
	observer domain.WindowObserver,
	idleProbe domain.IdleProbe,
	aggregator *aggregate.Aggregator,
	store domain.SessionStore,
	registry domain.TrackerRegistry,
	info domain.TrackerInfo,
	logger *zap.Logger,
) *Sampler {
	return &Sampler{
		config:     config,
		observer:   observer,
		idleProbe:  idleProbe,
		aggregator: aggregator,
		store:      store,
		registry:   registry,
		info:       info,
		logger:     logger,
		now:        time.Now,
	}
}

// Run starts the sampling loop. This blocks until context is canceled,
// then force-flushes the open session so nothing in progress is lost.
func (s *Sampler) Run(ctx context.Context) error {
	if s.registry != nil {
		if err := s.registry.Register(s.info); err != nil {
			s.logger.Warn("failed to register tracker", zap.Error(err))
		}
	}

	s.logger.Info("sampler started",
		zap.Int("pid", s.info.PID),
		zap.String("device_id", s.info.DeviceID),
		zap.Duration("sample_interval", s.config.SampleInterval))

	s.lastFlush = s.now()

	// Sample immediately so the first tick does not wait a full interval.
	s.tick()

	sampleTicker := time.NewTicker(s.config.SampleInterval)
	heartbeatTicker := time.NewTicker(s.config.HeartbeatInterval)

	defer func() {
		sampleTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampler stopping")
			s.shutdown()
			return ctx.Err()

		case <-sampleTicker.C:
			s.tick()

		case <-heartbeatTicker.C:
			if s.registry != nil {
				if err := s.registry.Heartbeat(); err != nil {
					s.logger.Warn("failed to update heartbeat", zap.Error(err))
				}
			}
		}
	}
}

// tick takes one observation and appends it to the buffer.
// Entering idle emits a single synthetic sample rather than one per tick,
// so a long idle stretch becomes one session instead of many fragments.
func (s *Sampler) tick() {
	now := s.now()

	if s.idleProbe != nil && s.idleProbe.IsIdle() {
		if !s.wasIdle {
			s.wasIdle = true
			s.buffer = append(s.buffer, domain.Sample{
				Timestamp: now,
				App:       "Idle",
				Title:     "Idle",
			})
			s.logger.Debug("entered idle")
			s.maybeFlush(now)
		}
		return
	}

	if s.wasIdle {
		s.wasIdle = false
		s.logger.Debug("left idle")
	}

	sample, err := s.observer.Poll()
	if err != nil {
		s.logger.Warn("window observation failed", zap.Error(err))
		return
	}
	if sample == nil {
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}

	s.buffer = append(s.buffer, *sample)
	s.maybeFlush(now)
}

// maybeFlush flushes when either threshold is reached. Checked after
// every buffer append.
func (s *Sampler) maybeFlush(now time.Time) {
	if len(s.buffer) >= s.config.MaxBufferRows || now.Sub(s.lastFlush) >= s.config.FlushInterval {
		s.flush(false, now)
	}
}

// flush drains the buffer into finalized sessions and appends them to
// the store. On store failure the sessions are kept and retried on the
// next flush; buffered samples are never dropped.
func (s *Sampler) flush(closeActive bool, now time.Time) {
	sessions := s.aggregator.Drain(s.buffer, closeActive, now)
	s.buffer = s.buffer[:0]
	s.lastFlush = now

	if len(s.pending) > 0 {
		sessions = append(s.pending, sessions...)
		s.pending = nil
	}
	if len(sessions) == 0 {
		return
	}

	if err := s.store.Append(sessions); err != nil {
		s.logger.Warn("flush failed, will retry next cycle",
			zap.Error(err),
			zap.Int("sessions", len(sessions)))
		s.pending = sessions
		return
	}

	s.logger.Debug("flushed sessions", zap.Int("count", len(sessions)))
}

// shutdown force-closes the open session and clears the registry entry.
func (s *Sampler) shutdown() {
	s.flush(true, s.now())

	if s.registry != nil {
		if err := s.registry.Clear(); err != nil {
			s.logger.Warn("failed to clear registry", zap.Error(err))
		}
	}
}
