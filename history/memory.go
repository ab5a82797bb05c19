package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evdnx/gopairs/types"
)

// Memory is an in-process Provider backed by candles loaded up front.
type Memory struct {
	mu      sync.RWMutex
	candles map[string][]types.Candle
}

func NewMemory() *Memory {
	return &Memory{candles: make(map[string][]types.Candle)}
}

// Add inserts candles for sym, keeping each series sorted and de-duplicated by time.
func (m *Memory) Add(sym string, cs ...types.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	series := append(m.candles[sym], cs...)
	sort.SliceStable(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
	dedup := series[:0]
	for _, c := range series {
		if n := len(dedup); n > 0 && dedup[n-1].Time.Equal(c.Time) {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	m.candles[sym] = dedup
}

// Symbols lists every loaded instrument, sorted.
func (m *Memory) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.candles))
	for s := range m.candles {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) History(ctx context.Context, instrument string, count int, barSize time.Duration, until time.Time) ([]types.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	series, ok := m.candles[instrument]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	end := sort.Search(len(series), func(i int) bool { return series[i].Time.After(until) })
	window := append([]types.Candle(nil), series[:end]...)
	m.mu.RUnlock()
	return tail(Resample(window, barSize), count), nil
}

// Bars groups every loaded candle by timestamp into ascending bars.
func (m *Memory) Bars() []types.Bar {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byTime := make(map[time.Time]types.Bar)
	for sym, series := range m.candles {
		for _, c := range series {
			key := c.Time.UTC()
			b, ok := byTime[key]
			if !ok {
				b = types.Bar{Time: key, Candles: make(map[string]types.Candle)}
				byTime[key] = b
			}
			b.Candles[sym] = c
		}
	}
	out := make([]types.Bar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

var csvHeader = []string{"symbol", "time", "open", "high", "low", "close", "volume"}

// LoadCSV reads rows of symbol,time,open,high,low,close,volume with an
// RFC3339 time column. A header row is optional.
func (m *Memory) LoadCSV(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	cr.TrimLeadingSpace = true

	bySym := make(map[string][]types.Candle)
	n, line := 0, 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return n, fmt.Errorf("csv line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(rec[0], csvHeader[0]) {
			continue
		}
		c, err := parseRecord(rec)
		if err != nil {
			return n, fmt.Errorf("csv line %d: %w", line, err)
		}
		bySym[rec[0]] = append(bySym[rec[0]], c)
		n++
	}
	for sym, cs := range bySym {
		m.Add(sym, cs...)
	}
	return n, nil
}

func parseRecord(rec []string) (types.Candle, error) {
	var c types.Candle
	if rec[0] == "" {
		return c, errors.New("empty symbol")
	}
	ts, err := time.Parse(time.RFC3339, rec[1])
	if err != nil {
		return c, fmt.Errorf("time: %w", err)
	}
	c.Time = ts.UTC()
	vals := make([]float64, 5)
	for i := range vals {
		if vals[i], err = strconv.ParseFloat(rec[2+i], 64); err != nil {
			return c, fmt.Errorf("%s: %w", csvHeader[2+i], err)
		}
	}
	c.Open, c.High, c.Low, c.Close, c.Volume = vals[0], vals[1], vals[2], vals[3], vals[4]
	return c, nil
}
