// Package main is the entry point for the hldesk funding-rate service. It
// wires the venue adapters, the aggregation poller, the paper and AI trading
// engines, the snapshot scheduler and the HTTP API, then runs until
// interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/aggregator"
	"github.com/hldesk/hldesk/internal/ai"
	"github.com/hldesk/hldesk/internal/config"
	"github.com/hldesk/hldesk/internal/paper"
	"github.com/hldesk/hldesk/internal/poller"
	"github.com/hldesk/hldesk/internal/ratecache"
	"github.com/hldesk/hldesk/internal/scheduler"
	"github.com/hldesk/hldesk/internal/server"
	"github.com/hldesk/hldesk/internal/snapshots"
	"github.com/hldesk/hldesk/internal/store"
	"github.com/hldesk/hldesk/internal/venues"
	"github.com/hldesk/hldesk/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting hldesk")

	// Store is optional. Without it the service still aggregates and serves
	// live funding data; persistence and the trading engines are disabled.
	var st *store.Store
	if cfg.StoreReadable() {
		st, err = store.Open(cfg.SupabaseURL, cfg.StoreWritable(), log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open store")
		}
		defer st.Close()
		log.Info().Bool("writable", st.Writable()).Msg("Store connected")
	} else {
		log.Warn().Msg("Store not configured, running without persistence")
	}

	// Venue adapters. Hyperliquid defines the asset universe; the CEX set
	// is configurable.
	primary := venues.NewHyperliquid("", log)
	cexes := cexAdapters(cfg.CexVenues, log)

	agg := aggregator.New(primary, cexes, log)
	cache := ratecache.New(agg.Aggregate)

	// Trading engines only run with a writable store.
	var paperEngine *paper.Engine
	var aiEngine *ai.Engine
	if st.Writable() {
		paperEngine = paper.NewEngine(st.Paper, log)

		var llm ai.Completer
		if cfg.LLMEnabled() {
			llm = ai.NewOpenRouterClient("", cfg.OpenRouterAPIKey, log)
		} else {
			log.Warn().Msg("OpenRouter key not configured, agents will hold")
		}
		aiEngine = ai.NewEngine(st.AI, llm, log)
	}

	// Poll loop: aggregate, cache, persist rates, run the paper engine.
	var sink poller.RateSink
	var engine poller.TradingEngine
	if st.Writable() {
		sink = st.Funding
	}
	if paperEngine != nil {
		engine = paperEngine
	}
	loop := poller.New(agg, cache, sink, engine, cfg.PollInterval, log)

	// Hourly equity snapshots.
	sched := scheduler.New(log)
	var sampler *snapshots.Sampler
	if st.Writable() {
		sampler = snapshots.New(st, cache, log)
		if err := sched.AddJob("@hourly", sampler); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule snapshots")
		}
	}

	srv := server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		Cache:      cache,
		Store:      st,
		Agents:     agentRunner(aiEngine),
		Sampler:    samplerRunner(sampler),
		LLMEnabled: cfg.LLMEnabled(),
		DevMode:    cfg.DevMode,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx)
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	loop.Stop()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}

func cexAdapters(names []string, log zerolog.Logger) []venues.Adapter {
	adapters := make([]venues.Adapter, 0, len(names))
	for _, name := range names {
		switch name {
		case "binance":
			adapters = append(adapters, venues.NewBinance("", log))
		case "bybit":
			adapters = append(adapters, venues.NewBybit("", log))
		case "okx":
			adapters = append(adapters, venues.NewOKX("", log))
		default:
			log.Warn().Str("venue", name).Msg("Unknown CEX venue, skipping")
		}
	}
	return adapters
}

// agentRunner converts a possibly-nil engine into the server's interface
// without producing a non-nil interface around a nil pointer.
func agentRunner(e *ai.Engine) server.AgentRunner {
	if e == nil {
		return nil
	}
	return e
}

func samplerRunner(s *snapshots.Sampler) server.SnapshotRunner {
	if s == nil {
		return nil
	}
	return s
}
