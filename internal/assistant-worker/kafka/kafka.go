package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"

	"assistant-dispatch-service/internal/config"
)

// NewReader returns a consumer-group reader on the run request topic.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(ReaderConfig(cfg))
}

func ReaderConfig(cfg config.KafkaConfig) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.RunRequestTopic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	}
}

// NewWriter returns a synchronous writer for topic.
func NewWriter(cfg config.KafkaConfig, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		WriteTimeout: 10 * time.Second,
	}
}
