package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/sdr-runner/internal/config"
	"github.com/couchcryptid/sdr-runner/internal/domain"
)

// Writer publishes notifications, routing each to the topic of the
// configured publish topic its subject falls under. It implements
// pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	prefix string
	routes []string
	logger *slog.Logger
}

// NewWriter creates a Kafka producer. Settings in pub override the profile's.
func NewWriter(p *config.Profile, pub config.Publisher, logger *slog.Logger) *Writer {
	brokers := p.Brokers
	if len(pub.Brokers) > 0 {
		brokers = pub.Brokers
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           requiredAcks(pub.RequiredAcks),
		AllowAutoTopicCreation: true,
	}
	if pub.ClientID != "" {
		w.Transport = &kafkago.Transport{ClientID: pub.ClientID}
	}
	return &Writer{writer: w, prefix: pub.TopicPrefix, routes: []string{p.PublishTopic}, logger: logger}
}

func requiredAcks(s string) kafkago.RequiredAcks {
	switch s {
	case "one":
		return kafkago.RequireOne
	case "none":
		return kafkago.RequireNone
	default:
		return kafkago.RequireAll
	}
}

// Publish writes n to the topic of its subject. The full subject travels in
// the envelope and the subject header.
func (w *Writer) Publish(ctx context.Context, n domain.Notification) error {
	msg, err := serializeToMessage(n, w.prefix, w.routes)
	if err != nil {
		return &domain.PublishFailure{Topic: n.Topic, Err: err}
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return &domain.PublishFailure{Topic: msg.Topic, Err: err}
	}
	w.logger.Debug("notification published", "topic", msg.Topic, "subject", n.Topic, "type", n.Type)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Notification into a Kafka message keyed by platform.
func serializeToMessage(n domain.Notification, prefix string, routes []string) (kafkago.Message, error) {
	if n.Topic == "" {
		return kafkago.Message{}, fmt.Errorf("notification has no subject")
	}
	data, err := domain.EncodeNotification(n)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Topic: RouteTopic(prefix, n.Topic, routes),
		Key:   []byte(n.Platform()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: subjectHeader, Value: []byte(n.Topic)},
			{Key: "type", Value: []byte(n.Type)},
			{Key: "sent_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}
