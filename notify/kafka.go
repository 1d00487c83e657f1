package notify

import (
	"context"
	"strings"

	sarama "github.com/IBM/sarama"
)

// KafkaTransport implements Transport over a Kafka producer.
type KafkaTransport struct {
	producer sarama.SyncProducer
}

// NewKafkaTransport creates a transport producing to the given brokers.
func NewKafkaTransport(brokers []string, cfg *sarama.Config) (*KafkaTransport, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaTransport{producer: producer}, nil
}

// NewKafkaTransportFromProducer wraps an existing producer; useful in tests.
func NewKafkaTransportFromProducer(producer sarama.SyncProducer) *KafkaTransport {
	return &KafkaTransport{producer: producer}
}

// Publish implements Transport.Publish. Channel names become topic names
// with the colon separators replaced, matching Kafka's naming rules.
func (t *KafkaTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: strings.ReplaceAll(channel, ":", "."),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err := t.producer.SendMessage(msg)
	return err
}

// Close releases the underlying producer.
func (t *KafkaTransport) Close() error {
	return t.producer.Close()
}
