// Package publish forwards signals and allocations to downstream consumers.
package publish

import (
	"context"
	"time"

	"github.com/evdnx/gopairs/types"
)

// Allocation is the wire form of a rebalance result.
type Allocation struct {
	Strategy string             `json:"strategy"`
	Time     time.Time          `json:"time"`
	Weights  map[string]float64 `json:"weights"`
	Columns  []string           `json:"columns,omitempty"`
	Vector   []float64          `json:"vector,omitempty"`
	PValue   float64            `json:"pvalue"`
	Outcome  string             `json:"outcome"`
}

// Sink receives every emitted signal and every allocation.
type Sink interface {
	PublishSignals(ctx context.Context, signals []types.Signal) error
	PublishAllocation(ctx context.Context, a Allocation) error
	Close() error
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) PublishSignals(context.Context, []types.Signal) error { return nil }
func (NopSink) PublishAllocation(context.Context, Allocation) error  { return nil }
func (NopSink) Close() error                                         { return nil }
