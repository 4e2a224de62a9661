package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/erain9/pairflow/pkg/messaging"
)

// DebugConsumer tails the drop-copy topic and pretty prints every
// execution report. For developer use; production consumers live
// downstream.
type DebugConsumer struct {
	reader *kafka.Reader
	logger zerolog.Logger
}

// NewDebugConsumer creates a consumer on the given broker and topic
func NewDebugConsumer(brokerAddr, topic string, logger zerolog.Logger) *DebugConsumer {
	return &DebugConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  []string{brokerAddr},
			Topic:    topic,
			GroupID:  "pairflow-debug",
			MinBytes: 1,
			MaxBytes: 1 << 20,
		}),
		logger: logger,
	}
}

// Start consumes reports in a background goroutine until the context is
// cancelled or the reader is closed.
func (c *DebugConsumer) Start(ctx context.Context) {
	go func() {
		c.logger.Info().Msg("Starting drop-copy debug consumer")
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				c.logger.Error().Err(err).Msg("Drop-copy consumer error")
				return
			}

			var report messaging.ExecutionReport
			if err := json.Unmarshal(msg.Value, &report); err != nil {
				c.logger.Warn().Err(err).Msg("Malformed execution report")
				continue
			}
			c.logger.Info().
				Uint64("aos_id", report.AOSID).
				Str("client_id", report.ClientID).
				Str("symbol", report.Symbol).
				Str("side", report.Side).
				Str("event", report.Event).
				Str("px", report.Px).
				Str("qty", report.Qty).
				Str("cum_qty", report.CumQty).
				Int("pair_id", report.PairID).
				Msg("Received execution report")
		}
	}()
}

// Close stops the consumer
func (c *DebugConsumer) Close() error {
	return c.reader.Close()
}
