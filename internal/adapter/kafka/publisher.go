// Package kafka publishes stored observations to a Kafka topic after the run
// transaction commits.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-ingest/internal/domain"
)

// Publisher produces one message per inserted observation.
type Publisher struct {
	writer *kafkago.Writer
	source string
	logger *slog.Logger
}

// NewPublisher creates a producer for topic. source ("forecast" or
// "historical") is attached to every message as a header.
func NewPublisher(brokers []string, topic, source string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, source: source, logger: logger}
}

// Publish writes all observations in a single WriteMessages call.
func (p *Publisher) Publish(ctx context.Context, observations []domain.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(observations))
	for i := range observations {
		msg, err := serializeToMessage(observations[i], p.source)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish observations: %w", err)
	}
	p.logger.Info("observations published", "topic", p.writer.Topic, "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

type observationMessage struct {
	Data         string   `json:"data"`
	Temperatura  *float64 `json:"temperatura"`
	Precipitacao *float64 `json:"precipitacao"`
	Umidade      *float64 `json:"umidade"`
}

// serializeToMessage marshals an Observation into a Kafka message keyed by
// its timestamp, so replays of the same reading land on the same partition.
func serializeToMessage(obs domain.Observation, source string) (kafkago.Message, error) {
	data, err := json.Marshal(observationMessage{
		Data:         obs.Key(),
		Temperatura:  obs.Temperature,
		Precipitacao: obs.Precipitation,
		Umidade:      obs.Humidity,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(obs.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(source)},
		},
	}, nil
}
