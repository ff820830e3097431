package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"qcflow/internal/logger"
	"qcflow/internal/metrics"
	"qcflow/internal/models"
)

// SourceKafka labels batches read from the input topic.
const SourceKafka = "kafka"

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads monitor objects from the input topic and hands them to the
// scheduler as batches, one batch per message. Offsets are committed once
// the batch has been queued.
type Consumer struct {
	reader messageReader
	out    chan<- *models.Batch
}

// NewConsumer creates a consumer group reader on topic.
func NewConsumer(brokers []string, topic, groupID string, out chan<- *models.Batch) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		return nil, ErrNoTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // explicit commits only
	})
	return &Consumer{reader: reader, out: out}, nil
}

// Run consumes until ctx is cancelled. Messages that do not decode are
// committed and dropped.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Msg("consumer started")
	defer log.Info().Msg("consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		batch := c.decode(msg)
		if batch != nil {
			select {
			case c.out <- batch:
			case <-ctx.Done():
				return nil
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}
}

// decode returns nil when the message carries no valid object.
func (c *Consumer) decode(msg kafka.Message) *models.Batch {
	log := logger.WithComponent("kafka_consumer")

	inputs, err := models.DecodeInputs(msg.Value)
	if err != nil {
		log.Warn().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("dropping undecodable message")
		metrics.KafkaConsumedTotal.WithLabelValues("invalid").Inc()
		return nil
	}

	batch := &models.Batch{
		ID:         uuid.NewString(),
		Source:     SourceKafka,
		ReceivedAt: time.Now().UTC(),
		Objects:    make([]*models.MonitorObject, 0, len(inputs)),
	}
	for _, in := range inputs {
		mo, err := in.ToMonitorObject()
		if err != nil {
			log.Warn().Err(err).Str("object", in.TaskName+"/"+in.Name).Msg("dropping invalid monitor object")
			metrics.MonitorObjectsReceived.WithLabelValues(SourceKafka, "rejected").Inc()
			metrics.IngestValidationErrors.WithLabelValues(models.ValidationErrorType(err)).Inc()
			continue
		}
		metrics.MonitorObjectsReceived.WithLabelValues(SourceKafka, "accepted").Inc()
		batch.Objects = append(batch.Objects, mo)
	}

	if len(batch.Objects) == 0 {
		metrics.KafkaConsumedTotal.WithLabelValues("invalid").Inc()
		return nil
	}
	metrics.KafkaConsumedTotal.WithLabelValues("decoded").Inc()
	return batch
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
