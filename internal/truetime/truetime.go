// Package truetime serves wall-clock time corrected against an NTP server,
// together with the uncertainty of that correction.
package truetime

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/raulk/clock"
	"go.uber.org/zap"
)

const (
	DefaultServer   = "time.google.com"
	DefaultInterval = 30 * time.Second
	// skewWarning is the offset above which a sync is logged as a warning.
	skewWarning = 10 * time.Millisecond
)

// Interval is a point in time with uncertainty bounds.
type Interval struct {
	Earliest time.Time
	Latest   time.Time
}

// QueryFunc measures the local clock against server, returning the offset to
// add to local time and the round trip time of the measurement.
type QueryFunc func(server string) (offset, rtt time.Duration, err error)

func queryNTP(server string) (time.Duration, time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, 0, err
	}
	return resp.ClockOffset, resp.RTT, nil
}

// TrueTime provides time with bounded uncertainty. Until the first successful
// sync it serves the local clock unchanged.
type TrueTime struct {
	server   string
	interval time.Duration
	logger   *zap.Logger
	base     clock.Clock
	query    QueryFunc

	mu          sync.RWMutex
	offset      time.Duration
	uncertainty time.Duration
	synced      bool
}

type Option func(*TrueTime)

func WithServer(server string) Option {
	return func(tt *TrueTime) { tt.server = server }
}

// WithInterval sets how often Run re-syncs.
func WithInterval(d time.Duration) Option {
	return func(tt *TrueTime) { tt.interval = d }
}

// WithBaseClock replaces the local clock being corrected.
func WithBaseClock(c clock.Clock) Option {
	return func(tt *TrueTime) { tt.base = c }
}

// WithQuery replaces the NTP measurement.
func WithQuery(q QueryFunc) Option {
	return func(tt *TrueTime) { tt.query = q }
}

// NewTrueTime creates a new TrueTime instance with the given logger.
func NewTrueTime(logger *zap.Logger, opts ...Option) *TrueTime {
	tt := &TrueTime{
		server:   DefaultServer,
		interval: DefaultInterval,
		logger:   logger,
		base:     clock.New(),
		query:    queryNTP,
	}
	for _, opt := range opts {
		opt(tt)
	}
	return tt
}

// Now returns the corrected current time.
func (tt *TrueTime) Now() time.Time {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.base.Now().Add(tt.offset)
}

// Interval returns the current time along with uncertainty bounds.
func (tt *TrueTime) Interval() Interval {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	now := tt.base.Now().Add(tt.offset)
	return Interval{Earliest: now.Add(-tt.uncertainty), Latest: now.Add(tt.uncertainty)}
}

// Synced reports whether at least one measurement succeeded.
func (tt *TrueTime) Synced() bool {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.synced
}

// Sync measures the clock once and adopts the result.
func (tt *TrueTime) Sync() error {
	offset, rtt, err := tt.query(tt.server)
	if err != nil {
		tt.logger.Warn("clock sync failed", zap.String("server", tt.server), zap.Error(err))
		return err
	}
	tt.mu.Lock()
	tt.offset = offset
	tt.uncertainty = rtt / 2
	tt.synced = true
	tt.mu.Unlock()

	if offset.Abs() > skewWarning {
		tt.logger.Warn("Clock is out of the acceptable sync range", zap.Duration("offset", offset))
	}
	tt.logger.Debug("Adjusted local clock", zap.Duration("offset", offset), zap.Duration("rtt", rtt))
	return nil
}

// Run re-syncs every interval until ctx is done. Failed syncs keep the last
// good correction.
func (tt *TrueTime) Run(ctx context.Context) {
	tt.logger.Info("Starting TrueTime", zap.String("server", tt.server), zap.Duration("interval", tt.interval))
	ticker := tt.base.Ticker(tt.interval)
	defer ticker.Stop()
	_ = tt.Sync()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = tt.Sync()
		}
	}
}

type correctedClock struct {
	clock.Clock
	tt *TrueTime
}

func (c correctedClock) Now() time.Time { return c.tt.Now() }

// Clock returns the base clock with Now replaced by the corrected time. Timers
// and tickers still run on the base clock.
func (tt *TrueTime) Clock() clock.Clock {
	return correctedClock{Clock: tt.base, tt: tt}
}
