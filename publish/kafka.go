package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/types"
)

var (
	messagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gopairs_kafka_messages_total",
		Help: "Messages written to Kafka by topic and status.",
	}, []string{"topic", "status"})

	publishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gopairs_kafka_write_seconds",
		Help:    "Kafka write latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes JSON messages; signals are keyed by instrument and
// allocations by strategy name.
type KafkaSink struct {
	w                messageWriter
	strategy         string
	signalsTopic     string
	allocationsTopic string
}

// NewKafkaSink builds a writer from cfg. Topics are set per message.
func NewKafkaSink(cfg config.Kafka, strategy string) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	return newKafkaSink(w, cfg, strategy), nil
}

func newKafkaSink(w messageWriter, cfg config.Kafka, strategy string) *KafkaSink {
	return &KafkaSink{
		w:                w,
		strategy:         strategy,
		signalsTopic:     cfg.SignalsTopic,
		allocationsTopic: cfg.AllocationsTopic,
	}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

func (k *KafkaSink) PublishSignals(ctx context.Context, signals []types.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(signals))
	for _, s := range signals {
		v, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal signal: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: k.signalsTopic,
			Key:   []byte(s.Instrument),
			Value: v,
			Time:  s.GeneratedAt,
		})
	}
	return k.write(ctx, k.signalsTopic, msgs)
}

func (k *KafkaSink) PublishAllocation(ctx context.Context, a Allocation) error {
	if a.Strategy == "" {
		a.Strategy = k.strategy
	}
	v, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal allocation: %w", err)
	}
	msg := kafka.Message{
		Topic: k.allocationsTopic,
		Key:   []byte(a.Strategy),
		Value: v,
		Time:  a.Time,
	}
	return k.write(ctx, k.allocationsTopic, []kafka.Message{msg})
}

func (k *KafkaSink) write(ctx context.Context, topic string, msgs []kafka.Message) error {
	start := time.Now()
	err := k.w.WriteMessages(ctx, msgs...)
	publishLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	messagesPublished.WithLabelValues(topic, status).Add(float64(len(msgs)))
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

// Close closes the producer.
func (k *KafkaSink) Close() error {
	if k.w != nil {
		return k.w.Close()
	}
	return nil
}
