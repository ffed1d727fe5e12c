// Package poller drives the aggregation pipeline on a fixed interval and
// fans the result out to the cache, the snapshot writer and the paper
// engine.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
)

// Aggregator produces one cross-venue aggregation pass.
type Aggregator interface {
	Aggregate(ctx context.Context) domain.AggregatedResult
}

// Cache receives every completed aggregation.
type Cache interface {
	Update(result domain.AggregatedResult)
}

// RateSink persists rate batches; fire-and-forget from the loop's view.
type RateSink interface {
	SaveRates(ctx context.Context, rates []domain.FundingRate) error
}

// TradingEngine runs one paper cycle against a fresh aggregation.
type TradingEngine interface {
	RunCycle(ctx context.Context, result domain.AggregatedResult)
}

// Poller ticks at a fixed interval, aggregates, updates the cache and spawns
// the downstream tasks without awaiting them. A tick that arrives while the
// previous aggregation is still running is skipped.
type Poller struct {
	aggregator Aggregator
	cache      Cache
	sink       RateSink
	engine     TradingEngine
	interval   time.Duration
	log        zerolog.Logger

	inFlight sync.Mutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates the poll loop. sink and engine may be nil when persistence or
// trading is disabled.
func New(aggregator Aggregator, cache Cache, sink RateSink, engine TradingEngine, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		aggregator: aggregator,
		cache:      cache,
		sink:       sink,
		engine:     engine,
		interval:   interval,
		log:        log.With().Str("component", "poller").Logger(),
	}
}

// Start performs one immediate aggregation, then polls until Stop or context
// cancellation.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	p.tick(ctx)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()

	p.log.Info().Dur("interval", p.interval).Msg("Poller started")
}

// Stop halts the loop and waits for spawned tasks to finish.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.wg.Wait()
	p.log.Info().Msg("Poller stopped")
}

func (p *Poller) tick(ctx context.Context) {
	if !p.inFlight.TryLock() {
		p.log.Warn().Msg("Previous aggregation still running, skipping tick")
		return
	}
	defer p.inFlight.Unlock()

	result := p.aggregator.Aggregate(ctx)
	p.cache.Update(result)

	if len(result.AllRates) == 0 {
		return
	}
	p.log.Debug().
		Int("assets", len(result.Spreads)).
		Int("rates", len(result.AllRates)).
		Msg("Aggregation complete")

	if p.sink != nil {
		rates := result.AllRates
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.sink.SaveRates(context.WithoutCancel(ctx), rates); err != nil {
				p.log.Error().Err(err).Msg("Failed to persist rates")
			}
		}()
	}

	if p.engine != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.engine.RunCycle(context.WithoutCancel(ctx), result)
		}()
	}
}
