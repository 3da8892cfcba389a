// Package kafka publishes entity-resolution events.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Event types
const (
	EventEntityResolved    = "entity.resolved"
	EventPipelineCompleted = "pipeline.completed"
)

const schemaVersion = "1.0"

// DefaultBatchSize is the number of messages per WriteMessages call.
const DefaultBatchSize = 100

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles Kafka event emission
type Producer struct {
	writer    MessageWriter
	logger    ectologger.Logger
	topic     string
	batchSize int
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	var compression kafka.Compression
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "snappy", "":
		compression = kafka.Snappy
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.BatchSize, logger)
}

// NewProducerWithWriter wraps an existing writer. The writer owns the topic.
func NewProducerWithWriter(writer MessageWriter, batchSize int, logger ectologger.Logger) *Producer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Producer{
		writer:    writer,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// ClusterEvent announces the resolved membership of one entity.
type ClusterEvent struct {
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	RunID       string                 `json:"run_id"`
	Collection  string                 `json:"collection"`
	CanonicalID string                 `json:"canonical_id"`
	Members     []models.ClusterMember `json:"members"`
	Timestamp   time.Time              `json:"timestamp"`
}

// RunEvent announces a finished pipeline run.
type RunEvent struct {
	EventID   string             `json:"event_id"`
	EventType string             `json:"event_type"`
	Run       models.PipelineRun `json:"run"`
	Timestamp time.Time          `json:"timestamp"`
}

// PublishClusters sends one entity.resolved event per cluster, keyed by
// canonical id so a cluster's history stays on one partition.
func (p *Producer) PublishClusters(ctx context.Context, collection, runID string, clusters []models.EntityCluster) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishClusters")
	defer span.End()

	if len(clusters) == 0 {
		return nil
	}

	now := time.Now().UTC()
	messages := make([]kafka.Message, 0, len(clusters))
	for _, c := range clusters {
		data, err := json.Marshal(ClusterEvent{
			EventID:     uuid.New().String(),
			EventType:   EventEntityResolved,
			RunID:       runID,
			Collection:  collection,
			CanonicalID: c.CanonicalID,
			Members:     c.Members,
			Timestamp:   now,
		})
		if err != nil {
			return errors.Wrap(err, "failed to encode cluster event")
		}
		messages = append(messages, message(c.CanonicalID, data, EventEntityResolved, collection))
	}

	for start := 0; start < len(messages); start += p.batchSize {
		end := min(start+p.batchSize, len(messages))
		if err := p.writer.WriteMessages(ctx, messages[start:end]...); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"run_id":     runID,
				"batch_size": end - start,
			}).Error("Failed to publish cluster events batch")
			return errors.Wrap(err, "failed to publish cluster events")
		}
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":     runID,
		"collection": collection,
		"events":     len(messages),
	}).Info("Published cluster events")
	return nil
}

// PublishRunCompleted sends the pipeline.completed event for a run.
func (p *Producer) PublishRunCompleted(ctx context.Context, run models.PipelineRun) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishRunCompleted")
	defer span.End()

	data, err := json.Marshal(RunEvent{
		EventID:   uuid.New().String(),
		EventType: EventPipelineCompleted,
		Run:       run,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode run event")
	}

	if err := p.writer.WriteMessages(ctx, message(run.ID, data, EventPipelineCompleted, run.Definition)); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to publish run event")
		return errors.Wrap(err, "failed to publish run event")
	}
	return nil
}

func message(key string, value []byte, eventType, collection string) kafka.Message {
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "collection", Value: []byte(collection)},
			{Key: "schema_version", Value: []byte(schemaVersion)},
		},
	}
}
