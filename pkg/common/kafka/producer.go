package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
)

// Producer is the data-plane sink. Messages carry their own topic and are
// partitioned by key, so every reading of a patient lands on one partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte("bedside-sim")},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"topic": topic,
			"key":   key,
		}).Error("Failed to publish message")
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"topic": topic,
		"key":   key,
		"bytes": len(payload),
	}).Debug("Message published")

	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
