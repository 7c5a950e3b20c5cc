package kafka

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
)

type Consumer struct {
	reader *kafka.Reader
}

// MessageHandler receives the raw key and value of one record.
type MessageHandler func(ctx context.Context, key, value []byte) error

func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{reader: reader}
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return ctx.Err()
				}
				logger.Log.WithError(err).Error("Failed to fetch message")
				continue
			}

			if err := handler(ctx, message.Key, message.Value); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Warn("Failed to process message")
			}

			if err := c.reader.CommitMessages(ctx, message); err != nil {
				logger.Log.WithError(err).Error("Failed to commit message")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
