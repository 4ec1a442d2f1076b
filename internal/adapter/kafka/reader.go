package kafka

import (
	"context"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/sdr-runner/internal/config"
	"github.com/couchcryptid/sdr-runner/internal/domain"
)

const subjectHeader = "subject"

// Reader consumes file notifications from the subscribe topics as one
// consumer group. It implements pipeline.Extractor.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer group reader over the profile's subscribe topics.
func NewReader(p *config.Profile, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        p.Brokers,
		GroupID:        p.GroupID,
		GroupTopics:    TopicNames(p.SubscribeTopics),
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafkago.LastOffset,
	})
	return &Reader{reader: r, logger: logger}
}

// Extract blocks for the next notification. The returned notification's
// Commit acknowledges it to the group.
func (r *Reader) Extract(ctx context.Context) (domain.Notification, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Notification{}, ctx.Err()
		}
		return domain.Notification{}, &domain.TransportError{Op: "fetch", Err: err}
	}

	n, err := mapMessageToNotification(msg)
	if err != nil {
		if cerr := r.reader.CommitMessages(ctx, msg); cerr != nil {
			r.logger.Warn("commit of malformed message failed", "topic", msg.Topic, "offset", msg.Offset, "error", cerr)
		}
		return domain.Notification{}, fmt.Errorf("%w: topic %s offset %d: %w", domain.ErrMalformed, msg.Topic, msg.Offset, err)
	}
	n.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return n, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToNotification decodes a Kafka message. The subject header, when
// present, names the logical topic of a bare payload.
func mapMessageToNotification(msg kafkago.Message) (domain.Notification, error) {
	topic := msg.Topic
	for _, h := range msg.Headers {
		if h.Key == subjectHeader && len(h.Value) > 0 {
			topic = string(h.Value)
		}
	}
	return domain.DecodeNotification(topic, msg.Value, msg.Time)
}
