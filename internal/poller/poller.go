package poller

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/lastvalue/internal/api"
	"github.com/rickgao/lastvalue/internal/model"
)

// QuoteSource fetches a single last price. *api.Client implements it.
type QuoteSource interface {
	GetPrice(ctx context.Context, instrumentID string) (*api.PriceRecord, error)
}

// Handler receives the quotes that changed during one poll cycle.
type Handler interface {
	HandleQuotes(ctx context.Context, quotes []model.Observation) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(context.Context, []model.Observation) error

func (f HandlerFunc) HandleQuotes(ctx context.Context, quotes []model.Observation) error {
	return f(ctx, quotes)
}

// Config holds poller configuration.
type Config struct {
	Instruments []string      // Instruments to watch
	Interval    time.Duration // Poll interval (default: 5s)
	Concurrency int           // Max concurrent requests (default: 16)
	Timeout     time.Duration // Per-request timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		Concurrency: 16,
		Timeout:     5 * time.Second,
	}
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Polled    int
	Absent    int
	Errors    int
	Forwarded int
}

// Poller periodically fetches quotes via the REST API.
type Poller struct {
	cfg     Config
	source  QuoteSource
	handler Handler
	logger  *slog.Logger

	// Last forwarded observation per instrument. Only touched by the run loop.
	seen map[string]model.Observation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source QuoteSource, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
		seen:    make(map[string]model.Observation),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("quote poller started",
		"instruments", len(p.cfg.Instruments),
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("quote poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.PollOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(p.ctx)
		}
	}
}

// PollOnce runs a single cycle. It is not safe to call concurrently with a
// started poller.
func (p *Poller) PollOnce(ctx context.Context) CycleStats {
	start := time.Now()

	var (
		mu      sync.Mutex
		fetched []model.Observation
		absent  atomic.Int64
		errs    atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, id := range p.cfg.Instruments {
		g.Go(func() error {
			obs, err := p.pollInstrument(gctx, id)
			switch {
			case errors.Is(err, api.ErrAbsent):
				absent.Add(1)
			case err != nil:
				p.logger.Warn("failed to poll instrument",
					"instrument", id,
					"error", err,
				)
				errs.Add(1)
			default:
				mu.Lock()
				fetched = append(fetched, obs)
				mu.Unlock()
			}
			// Per-instrument failures never cancel the cycle.
			return nil
		})
	}
	g.Wait()

	changed := p.changed(fetched)
	stats := CycleStats{
		Polled: len(p.cfg.Instruments),
		Absent: int(absent.Load()),
		Errors: int(errs.Load()),
	}

	if len(changed) > 0 && p.handler != nil {
		if err := p.handler.HandleQuotes(ctx, changed); err != nil {
			p.logger.Warn("quote handler failed", "quotes", len(changed), "error", err)
			stats.Errors++
		} else {
			for _, o := range changed {
				p.seen[o.InstrumentID] = o
			}
			stats.Forwarded = len(changed)
		}
	}

	p.logger.Debug("poll cycle complete",
		"instruments", stats.Polled,
		"forwarded", stats.Forwarded,
		"absent", stats.Absent,
		"errors", stats.Errors,
		"duration", time.Since(start),
	)
	return stats
}

// changed returns the fetched quotes newer than what was last forwarded,
// sorted by instrument.
func (p *Poller) changed(fetched []model.Observation) []model.Observation {
	var out []model.Observation
	for _, o := range fetched {
		prev, ok := p.seen[o.InstrumentID]
		if ok && !o.NewerThan(prev) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out
}

func (p *Poller) pollInstrument(ctx context.Context, id string) (model.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	rec, err := p.source.GetPrice(ctx, id)
	if err != nil {
		return model.Observation{}, err
	}
	return api.ToObservation(*rec), nil
}
