package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"qcflow/internal/config"
	"qcflow/internal/logger"
	"qcflow/internal/metrics"
	"qcflow/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
	ErrNoBrokers       = errors.New("at least one broker is required")
	ErrNoTopic         = errors.New("topic is required")
)

// Producer publishes verdicts and alarm events. Writers are pooled and carry
// no topic of their own; every message names the topic it goes to.
type Producer struct {
	cfg          config.ProducerConfig
	verdictTopic string
	alarmTopic   string
	writers      []*kafka.Writer
	pool         chan *kafka.Writer
	closed       atomic.Bool

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// WithAlarmTopic routes alarm events to topic. Without it alarm events are
// not published.
func WithAlarmTopic(topic string) ProducerOption {
	return func(p *Producer) { p.alarmTopic = topic }
}

// NewProducer creates a producer writing verdicts to verdictTopic.
func NewProducer(brokers []string, verdictTopic string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	if verdictTopic == "" {
		return nil, ErrNoTopic
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	p := &Producer{
		cfg:          cfg,
		verdictTopic: verdictTopic,
		writers:      make([]*kafka.Writer, cfg.PoolSize),
		pool:         make(chan *kafka.Writer, cfg.PoolSize),
	}

	for _, opt := range opts {
		opt(p)
	}

	compression := getCompression(cfg.Compression)

	for i := 0; i < cfg.PoolSize; i++ {
		writer := &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{}, // Partition by check name
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  compression,
			MaxAttempts:  cfg.MaxRetries + 1,
			Async:        false,
		}
		p.writers[i] = writer
		p.pool <- writer
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// envelopeMessage builds the kafka message for one verdict.
func envelopeMessage(topic string, envelope *models.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	qo := envelope.Quality
	return kafka.Message{
		Topic: topic,
		Key:   []byte(envelope.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "check", Value: []byte(qo.CheckName)},
			{Key: "quality", Value: []byte(qo.Quality.String())},
			{Key: "quality_id", Value: []byte(qo.ID)},
			{Key: "revision", Value: []byte(strconv.FormatUint(uint64(qo.Revision), 10))},
			{Key: "node", Value: []byte(envelope.Node)},
		},
		Time: envelope.ProducedAt,
	}, nil
}

// alarmMessage builds the kafka message for one alarm event.
func alarmMessage(topic string, event *models.AlarmEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(event.AlarmName),
		Value: data,
		Headers: []kafka.Header{
			{Key: "alarm", Value: []byte(event.AlarmName)},
			{Key: "result", Value: []byte(event.Result)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.Timestamp,
	}, nil
}

// Publish sends one verdict envelope.
func (p *Producer) Publish(ctx context.Context, envelope *models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	msg, err := envelopeMessage(p.verdictTopic, envelope)
	if err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues(p.verdictTopic, "failed").Inc()
		return err
	}

	return p.send(ctx, p.verdictTopic, []kafka.Message{msg})
}

// PublishBatch sends verdict envelopes in one write. Envelopes that fail to
// serialize are logged and dropped.
func (p *Producer) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	if len(envelopes) == 0 {
		return nil
	}

	log := logger.WithComponent("kafka_producer")
	messages := make([]kafka.Message, 0, len(envelopes))
	for _, envelope := range envelopes {
		msg, err := envelopeMessage(p.verdictTopic, envelope)
		if err != nil {
			log.Error().
				Err(err).
				Str("quality_id", envelope.Quality.ID).
				Str("check", envelope.Quality.CheckName).
				Msg("failed to serialize envelope")
			p.messagesFailed.Add(1)
			metrics.KafkaPublishTotal.WithLabelValues(p.verdictTopic, "failed").Inc()
			continue
		}
		messages = append(messages, msg)
	}

	return p.send(ctx, p.verdictTopic, messages)
}

// PublishAlarms sends alarm events to the alarm topic. It is a no-op when no
// alarm topic was configured.
func (p *Producer) PublishAlarms(ctx context.Context, events []*models.AlarmEvent) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	if p.alarmTopic == "" || len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := alarmMessage(p.alarmTopic, event)
		if err != nil {
			p.messagesFailed.Add(1)
			metrics.KafkaPublishTotal.WithLabelValues(p.alarmTopic, "failed").Inc()
			continue
		}
		messages = append(messages, msg)
	}

	return p.send(ctx, p.alarmTopic, messages)
}

// send borrows a writer from the pool and writes messages with retries.
func (p *Producer) send(ctx context.Context, topic string, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	log := logger.WithComponent("kafka_producer")
	start := time.Now()

	var writer *kafka.Writer
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(uint64(len(messages)))
		return ctx.Err()
	}

	err := p.publishWithRetry(ctx, writer, messages)
	duration := time.Since(start)

	metrics.KafkaPublishDuration.Observe(duration.Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Int("batch_size", len(messages)).
			Dur("duration", duration).
			Msg("failed to publish to kafka")
		p.messagesFailed.Add(uint64(len(messages)))
		metrics.KafkaPublishTotal.WithLabelValues(topic, "failed").Add(float64(len(messages)))
		return err
	}

	log.Debug().
		Str("topic", topic).
		Int("batch_size", len(messages)).
		Dur("duration", duration).
		Msg("published to kafka")

	p.messagesSent.Add(uint64(len(messages)))
	metrics.KafkaPublishTotal.WithLabelValues(topic, "success").Add(float64(len(messages)))

	bytesTotal := uint64(0)
	for _, msg := range messages {
		bytesTotal += uint64(len(msg.Value))
	}
	p.bytesWritten.Add(bytesTotal)
	metrics.KafkaBytesWritten.Add(float64(bytesTotal))

	return nil
}

// publishWithRetry writes messages with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, writer *kafka.Writer, messages []kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Int("batch_size", len(messages)).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")

			metrics.KafkaPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, messages...)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("batch_size", len(messages)).
			Msg("kafka publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes all writers in the pool
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}

// HealthCheck verifies a writer can be borrowed from the pool.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var writer *kafka.Writer
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		return ctx.Err()
	}

	_ = writer.Stats()
	return nil
}
