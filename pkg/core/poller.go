package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"isstrack/pkg/config"
	"isstrack/pkg/logging"
	"isstrack/pkg/model"
)

// Cycle triggers.
const (
	TriggerStart  = "start"
	TriggerTick   = "tick"
	TriggerManual = "manual"
)

// Fetcher retrieves positions from the backend.
type Fetcher interface {
	GetLatest(ctx context.Context) (*model.PositionSample, error)
	GetTrend(ctx context.Context, hours, limit int) (*model.TrendWindow, error)
}

// Sink receives fetch results. history.Store implements it.
type Sink interface {
	SetLatest(sample *model.PositionSample)
	SetTrend(w *model.TrendWindow)
	FailLatest(err error)
	FailTrend(err error)
	SetLoading(loading bool)
}

// CycleObserver is told about every fetch cycle.
type CycleObserver interface {
	ObserveCycle(trigger string)
}

// Poller fetches the latest position and the trend window on start, on every
// tick and on manual refresh. The two fetches of a cycle run concurrently and
// each writes to the sink as it completes; in-flight fetches are never
// cancelled by a newer cycle, so the last completion wins.
type Poller struct {
	cfg      config.PollConfig
	fetcher  Fetcher
	sink     Sink
	observer CycleObserver

	refresh chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	loadMu   sync.Mutex // orders SetLoading calls with the in-flight count
	inflight int
}

// NewPoller creates a new Poller. observer may be nil.
func NewPoller(cfg config.PollConfig, f Fetcher, sink Sink, observer CycleObserver) *Poller {
	return &Poller{
		cfg:      cfg,
		fetcher:  f,
		sink:     sink,
		observer: observer,
		refresh:  make(chan struct{}, 1),
	}
}

// Refresh requests an immediate cycle. Requests made while one is already
// pending are coalesced; it reports whether this call queued a new one.
func (p *Poller) Refresh() bool {
	select {
	case p.refresh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Running reports whether Start is executing.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Start runs the loop. It blocks until ctx is cancelled, then stops the ticker.
// Fetches still in flight finish on their own; use Wait to join them.
func (p *Poller) Start(ctx context.Context) {
	interval := p.cfg.Interval.Std()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	p.running.Store(true)
	defer p.running.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Poller started", "interval", interval, "trend_hours", p.cfg.TrendHours, "trend_limit", p.cfg.TrendLimit)
	p.cycle(ctx, TriggerStart)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Poller stopped")
			return
		case <-ticker.C:
			p.cycle(ctx, TriggerTick)
		case <-p.refresh:
			p.cycle(ctx, TriggerManual)
		}
	}
}

// Wait blocks until every started fetch has finished.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// cycle launches both fetches and returns without waiting for them.
func (p *Poller) cycle(ctx context.Context, trigger string) {
	logging.TraceDefault("Poll cycle", "trigger", trigger)
	if p.observer != nil {
		p.observer.ObserveCycle(trigger)
	}

	p.loadMu.Lock()
	p.inflight += 2
	if p.inflight == 2 {
		p.sink.SetLoading(true)
	}
	p.loadMu.Unlock()

	p.wg.Add(2)
	go p.fetchLatest(ctx)
	go p.fetchTrend(ctx)
}

func (p *Poller) fetchLatest(ctx context.Context) {
	defer p.done(ctx)

	sample, err := p.fetcher.GetLatest(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("Latest position fetch failed", "error", err)
		p.sink.FailLatest(err)
		return
	}
	p.sink.SetLatest(sample)
}

func (p *Poller) fetchTrend(ctx context.Context) {
	defer p.done(ctx)

	w, err := p.fetcher.GetTrend(ctx, p.cfg.TrendHours, p.cfg.TrendLimit)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("Trend fetch failed", "error", err)
		p.sink.FailTrend(err)
		return
	}
	logging.TraceDefault("Trend fetched", "samples", w.Len())
	p.sink.SetTrend(w)
}

// done clears the loading flag once the last fetch finishes. Nothing is
// written after ctx is cancelled.
func (p *Poller) done(ctx context.Context) {
	p.loadMu.Lock()
	p.inflight--
	if p.inflight == 0 && ctx.Err() == nil {
		p.sink.SetLoading(false)
	}
	p.loadMu.Unlock()
	p.wg.Done()
}
