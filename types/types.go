package types

import (
	"math"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type Order struct {
	Symbol string
	Side   Side
	Qty    float64
	Price  float64 // limit price; 0 = market
	// meta
	Comment string
}

// Position is a signed holding; negative Qty is short.
type Position struct {
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

// Pair is an ordered (leg A, leg B) tuple. The tuple itself is the identity.
type Pair struct {
	A string `yaml:"a" json:"a"`
	B string `yaml:"b" json:"b"`
}

func (p Pair) String() string { return p.A + "/" + p.B }

// Direction of a trading recommendation.
type Direction int

const (
	Down Direction = -1
	Flat Direction = 0
	Up   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "flat"
	}
}

// Signal is an immutable directional recommendation with a validity horizon.
type Signal struct {
	Instrument  string        `json:"instrument"`
	Direction   Direction     `json:"direction"`
	GeneratedAt time.Time     `json:"generated_at"`
	Horizon     time.Duration `json:"horizon"`
	// Pair and ZScore describe the divergence that produced the signal.
	Pair   Pair    `json:"pair"`
	ZScore float64 `json:"z_score"`
}

// ExpiresAt is the first instant at which the signal is no longer valid.
func (s Signal) ExpiresAt() time.Time { return s.GeneratedAt.Add(s.Horizon) }

// IsActive reports whether the signal is still inside its horizon at now.
func (s Signal) IsActive(now time.Time) bool { return now.Before(s.ExpiresAt()) }

// Candle is a single OHLCV bar for one instrument.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Bar is one evaluation step: a timestamp plus the candles of every instrument
// that printed on it.
type Bar struct {
	Time    time.Time
	Candles map[string]Candle
	// Adjusted lists instruments with a split or dividend on this bar.
	Adjusted []string
}

// Close returns the close of sym; missing or non-finite prices are reported as absent.
func (b Bar) Close(sym string) (float64, bool) {
	c, ok := b.Candles[sym]
	if !ok || math.IsNaN(c.Close) || math.IsInf(c.Close, 0) {
		return 0, false
	}
	return c.Close, true
}
