package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/erain9/pairflow/pkg/messaging"
)

var (
	configMu   sync.RWMutex
	brokerList = "localhost:9092"
	topic      = "pairflow-dropcopy"
)

// newSyncProducer is swapped out in tests
var newSyncProducer = sarama.NewSyncProducer

// SetBrokerList overrides the Kafka broker address, called from config
// loading before any sender exists.
func SetBrokerList(addr string) {
	configMu.Lock()
	defer configMu.Unlock()
	brokerList = addr
}

// SetTopic overrides the drop-copy topic
func SetTopic(t string) {
	configMu.Lock()
	defer configMu.Unlock()
	topic = t
}

// QueueMessageSender publishes execution reports through a sarama sync
// producer. One instance per pool slot.
type QueueMessageSender struct {
	producer sarama.SyncProducer
	topic    string
}

// NewQueueMessageSender connects one producer to the configured broker
func NewQueueMessageSender() (*QueueMessageSender, error) {
	configMu.RLock()
	brokers, t := []string{brokerList}, topic
	configMu.RUnlock()

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5

	producer, err := newSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &QueueMessageSender{producer: producer, topic: t}, nil
}

// SendExecutionReport implements messaging.MessageSender
func (q *QueueMessageSender) SendExecutionReport(_ context.Context, report *messaging.ExecutionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal execution report: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(report.ClientID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send execution report: %w", err)
	}
	return nil
}

// Close releases the producer
func (q *QueueMessageSender) Close() error {
	return q.producer.Close()
}
