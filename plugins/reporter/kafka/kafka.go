// Package kafka implements Kafka reporter plugin.
// Records are JSON encoded and keyed by flow, so every record of one
// response lands in the same partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/segmentio/kafka-go"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/pkg/models"
	"firestige.xyz/pandit/pkg/plugin"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// messageWriter is the part of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter sends records to Kafka.
type KafkaReporter struct {
	name   string
	writer messageWriter
	config Config

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	LabelHeaders bool          `mapstructure:"label_headers"` // copy labels into message headers
}

// NewKafkaReporter creates a new Kafka reporter.
func NewKafkaReporter() plugin.Reporter {
	return &KafkaReporter{name: "kafka"}
}

// Name returns the plugin name.
func (r *KafkaReporter) Name() string {
	return r.name
}

// Init decodes the configuration and creates the writer.
func (r *KafkaReporter) Init(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("kafka reporter requires configuration: %w", core.ErrConfigInvalid)
	}

	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
		LabelHeaders: true,
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("kafka reporter config: %w", err)
	}

	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("kafka reporter: brokers is required: %w", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return fmt.Errorf("kafka reporter: topic is required: %w", core.ErrConfigInvalid)
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return err
	}
	r.config = cfg

	r.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		RequiredAcks: kafka.RequireOne,
	}
	return nil
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("invalid compression type %q: %w", name, core.ErrConfigInvalid)
	}
}

// Start starts the reporter.
func (r *KafkaReporter) Start(ctx context.Context) error {
	slog.Info("kafka reporter started",
		"brokers", r.config.Brokers,
		"topic", r.config.Topic,
		"batch_size", r.config.BatchSize,
		"batch_timeout", r.config.BatchTimeout,
		"compression", r.config.Compression,
	)
	return nil
}

// Stop closes the writer, which flushes pending messages.
func (r *KafkaReporter) Stop(ctx context.Context) error {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			slog.Error("error closing kafka writer", "error", err)
			return err
		}
	}

	slog.Info("kafka reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load(),
	)
	return nil
}

// Report sends one record.
func (r *KafkaReporter) Report(ctx context.Context, pkt *core.OutputPacket) error {
	if pkt == nil {
		return fmt.Errorf("nil packet")
	}
	return r.ReportBatch(ctx, []*core.OutputPacket{pkt})
}

// ReportBatch sends all records in one write.
func (r *KafkaReporter) ReportBatch(ctx context.Context, pkts []*core.OutputPacket) error {
	msgs := make([]kafka.Message, 0, len(pkts))
	for _, pkt := range pkts {
		if pkt == nil {
			continue
		}
		msg, err := r.buildMessage(pkt)
		if err != nil {
			r.errorCount.Add(1)
			return fmt.Errorf("serialize packet failed: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.errorCount.Add(uint64(len(msgs)))
		return fmt.Errorf("kafka write failed: %w", err)
	}
	r.reportedCount.Add(uint64(len(msgs)))
	return nil
}

func (r *KafkaReporter) buildMessage(pkt *core.OutputPacket) (kafka.Message, error) {
	rec := models.FromOutput(pkt)
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, err
	}

	msg := kafka.Message{
		Key:   []byte(rec.PartitionKey()),
		Value: value,
		Time:  pkt.Timestamp,
	}
	if r.config.LabelHeaders && len(pkt.Labels) > 0 {
		keys := make([]string, 0, len(pkt.Labels))
		for k := range pkt.Labels {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		msg.Headers = make([]kafka.Header, len(keys))
		for i, k := range keys {
			msg.Headers[i] = kafka.Header{Key: k, Value: []byte(pkt.Labels[k])}
		}
	}
	return msg, nil
}

// Flush is a no-op: WriteMessages is synchronous, so nothing is pending
// once it returns.
func (r *KafkaReporter) Flush(ctx context.Context) error {
	return nil
}
