package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/types"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func buildSink(w *fakeWriter) *KafkaSink {
	return newKafkaSink(w, config.Default().Kafka, "etf-basket-pairs")
}

func TestKafkaSinkSignals(t *testing.T) {
	w := &fakeWriter{}
	sink := buildSink(w)
	now := time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC)
	sigs := []types.Signal{
		{Instrument: "XLK", Direction: types.Down, GeneratedAt: now, Horizon: 6 * time.Hour},
		{Instrument: "QQQ", Direction: types.Up, GeneratedAt: now, Horizon: 6 * time.Hour},
	}
	if err := sink.PublishSignals(context.Background(), sigs); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	m := w.msgs[0]
	if m.Topic != "pairs.signals" || string(m.Key) != "XLK" {
		t.Fatalf("unexpected message routing: %s / %s", m.Topic, m.Key)
	}
	var got types.Signal
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Direction != types.Down || got.Horizon != 6*time.Hour {
		t.Fatalf("unexpected payload %+v", got)
	}

	// empty batches are not written
	if err := sink.PublishSignals(context.Background(), nil); err != nil || len(w.msgs) != 2 {
		t.Fatal("empty publish should be a no-op")
	}
}

func TestKafkaSinkAllocationDefaultsStrategy(t *testing.T) {
	w := &fakeWriter{}
	sink := buildSink(w)
	err := sink.PublishAllocation(context.Background(), Allocation{Weights: map[string]float64{"XLK": -0.2}, Outcome: "allocated"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "etf-basket-pairs" || w.msgs[0].Topic != "pairs.allocations" {
		t.Fatalf("unexpected message %+v", w.msgs)
	}
	if err := sink.Close(); err != nil || !w.closed {
		t.Fatal("close should reach the writer")
	}
}

func TestKafkaSinkWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	sink := buildSink(&fakeWriter{err: boom})
	err := sink.PublishAllocation(context.Background(), Allocation{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewKafkaSinkNeedsBrokers(t *testing.T) {
	if _, err := NewKafkaSink(config.Kafka{}, "x"); err == nil {
		t.Fatal("expected error without brokers")
	}
	if parseCompression("zstd") != kafka.Zstd || parseCompression("none") != 0 {
		t.Fatal("unexpected compression mapping")
	}
}
