package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tikcluster/tikwatch/internal/provider"
	"github.com/tikcluster/tikwatch/internal/types"
)

// Refresher rebuilds the dashboard on a fixed interval and keeps the latest one
type Refresher struct {
	source   provider.Source
	opts     Options
	interval time.Duration
	log      logrus.FieldLogger

	// OnRefresh is called after every successful refresh
	OnRefresh func(*Dashboard)

	mu      sync.RWMutex
	latest  *Dashboard
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a refresher whose builds are cancelled with parent
func NewRefresher(parent context.Context, source provider.Source, opts Options, interval time.Duration, log logrus.FieldLogger) *Refresher {
	ctx, cancel := context.WithCancel(parent)

	if interval <= 0 {
		interval = types.DefaultRefreshInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Refresher{
		source:   source,
		opts:     opts,
		interval: interval,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start builds the first dashboard synchronously, then refreshes in the background
func (r *Refresher) Start() error {
	if err := r.Refresh(r.ctx); err != nil {
		close(r.done)
		return fmt.Errorf("failed to build initial dashboard: %w", err)
	}

	go r.refreshLoop()
	return nil
}

// Stop stops the background refresh
func (r *Refresher) Stop() {
	r.cancel()
	<-r.done
}

// Wait blocks until the refresher is stopped
func (r *Refresher) Wait() {
	<-r.done
}

// Latest returns the most recent dashboard, or nil before the first refresh
func (r *Refresher) Latest() *Dashboard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// LastError returns the error of the most recent refresh, nil if it succeeded
func (r *Refresher) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Refresh builds a new dashboard. On failure the previous dashboard is kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := time.Now()
	dashboard, err := Build(ctx, r.source, r.opts)

	r.mu.Lock()
	r.lastErr = err
	if err == nil {
		r.latest = dashboard
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"source":      dashboard.Source,
		"supervisors": len(dashboard.Supervisors),
		"unparsed":    len(dashboard.Unparsed),
		"alerts":      len(dashboard.Alerts),
		"duration":    time.Since(start).String(),
	}).Debug("Dashboard refreshed")

	if r.OnRefresh != nil {
		r.OnRefresh(dashboard)
	}
	return nil
}

// refreshLoop rebuilds the dashboard every interval
func (r *Refresher) refreshLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Initial refresh already done in Start(), so just loop
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(r.ctx); err != nil {
				if r.ctx.Err() != nil {
					return
				}
				r.log.WithError(err).Error("Failed to refresh dashboard, keeping previous data")
			}
		}
	}
}
