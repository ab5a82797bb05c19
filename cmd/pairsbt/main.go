// Command pairsbt replays historical bars through the pairs engine with a
// paper executor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/engine"
	"github.com/evdnx/gopairs/executor"
	"github.com/evdnx/gopairs/history"
	"github.com/evdnx/gopairs/logger"
	"github.com/evdnx/gopairs/metrics"
	"github.com/evdnx/gopairs/publish"
	"github.com/evdnx/gopairs/store"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	barsPath := flag.String("bars", "", "CSV of candles: symbol,time,open,high,low,close,volume")
	replay := flag.Int("replay", 1000, "bars per symbol to replay when reading from ClickHouse")
	flag.Parse()

	if err := run(*cfgPath, *barsPath, *replay); err != nil {
		fmt.Fprintln(os.Stderr, "pairsbt:", err)
		os.Exit(1)
	}
}

func run(cfgPath, barsPath string, replay int) error {
	cfg, err := config.LoadWithEnv(cfgPath)
	if err != nil {
		return err
	}
	log, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return err
	}

	srv := metrics.Serve(cfg.App.MetricsAddr)
	defer srv.Close()
	log.Info("metrics_up", logger.String("addr", cfg.App.MetricsAddr))

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mem := history.NewMemory()
	var provider history.Provider = mem
	if barsPath != "" {
		f, err := os.Open(barsPath)
		if err != nil {
			return err
		}
		n, err := mem.LoadCSV(f)
		f.Close()
		if err != nil {
			return err
		}
		log.Info("bars_loaded", logger.String("path", barsPath), logger.Int("candles", n))
	}
	if cfg.ClickHouse.Enabled {
		ch, err := history.OpenClickHouse(ctx, cfg.ClickHouse, log)
		if err != nil {
			return err
		}
		defer ch.Close()
		provider = ch
		if barsPath == "" {
			if err := pull(ctx, ch, mem, symbols(cfg), replay, cfg.Allocator.BarSize); err != nil {
				return err
			}
		}
	}
	if len(mem.Symbols()) == 0 {
		return errors.New("no bars: pass -bars or enable clickhouse")
	}

	var sink publish.Sink = publish.NopSink{}
	if cfg.Kafka.Enabled {
		k, err := publish.NewKafkaSink(cfg.Kafka, cfg.App.Name)
		if err != nil {
			return err
		}
		sink = k
	}
	var st store.Store = store.NewMemory()
	if cfg.Redis.Enabled {
		rs, err := store.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rs.Close()
		st = rs
	}

	exec := executor.NewPaperExecutor(cfg.Execution.StartingEquity, log)
	eng, err := engine.New(cfg, engine.Deps{Exec: exec, History: provider, Sink: sink, Store: st, Log: log})
	if err != nil {
		return err
	}

	bars := mem.Bars()
	if err := eng.Start(ctx, bars[0].Time); err != nil {
		return err
	}
	log.Info("replay_started",
		logger.Int("bars", len(bars)),
		logger.Time("from", bars[0].Time),
		logger.Time("to", bars[len(bars)-1].Time))

	var (
		signals, rebalances, orders, failures int
		last                                  time.Time
	)
	for _, b := range bars {
		if ctx.Err() != nil {
			log.Warn("replay_interrupted", logger.Time("bar", last))
			break
		}
		step, err := eng.OnBar(ctx, b)
		if err != nil {
			failures++
		}
		signals += len(step.Signals)
		orders += len(step.Orders)
		if step.Rebalanced {
			rebalances++
		}
		last = b.Time
	}

	if err := eng.Close(context.Background(), last); err != nil {
		log.Warn("sink_close_failed", logger.Err(err))
	}
	log.Info("replay_finished",
		logger.Float64("equity", exec.Equity()),
		logger.Float64("cash", exec.Cash()),
		logger.Any("invested", executor.Invested(exec)),
		logger.Int("signals", signals),
		logger.Int("rebalances", rebalances),
		logger.Int("orders", orders),
		logger.Int("allocation_failures", failures))
	return nil
}

// symbols lists every instrument the configuration can trade.
func symbols(cfg *config.Config) []string {
	seen := make(map[string]bool)
	for _, p := range cfg.Estimator.Pairs {
		seen[p.A], seen[p.B] = true, true
	}
	for _, s := range cfg.Selection.Universe {
		seen[s] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// pull copies the most recent n bars of every symbol into mem.
func pull(ctx context.Context, p history.Provider, mem *history.Memory, syms []string, n int, barSize time.Duration) error {
	now := time.Now().UTC()
	for _, sym := range syms {
		cs, err := p.History(ctx, sym, n, barSize, now)
		if err != nil {
			return fmt.Errorf("pull %s: %w", sym, err)
		}
		mem.Add(sym, cs...)
	}
	return nil
}
