package kafka

import (
	"strings"
)

// maxTopicLen is the longest topic name Kafka accepts.
const maxTopicLen = 249

// TopicName maps a logical subject such as /file/viirs/sdr onto a Kafka
// topic name (file.viirs.sdr). Characters Kafka rejects become underscores.
// A non-empty prefix is joined with a dot.
func TopicName(prefix, subject string) string {
	name := strings.Trim(subject, "/")
	if prefix = strings.Trim(prefix, "./"); prefix != "" {
		name = prefix + "." + name
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/':
			b.WriteByte('.')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxTopicLen {
		out = out[:maxTopicLen]
	}
	return out
}

// RouteTopic picks the Kafka topic for a subject. Kafka has no subject
// prefix subscriptions, so a subject below one of routes (for example
// /file/viirs/sdr/SDR/1B/nkp/dev/... below /file/viirs/sdr) goes to the topic
// of the longest such route. Other subjects get their own topic.
func RouteTopic(prefix, subject string, routes []string) string {
	clean := strings.Trim(subject, "/")
	best := ""
	for _, r := range routes {
		r = strings.Trim(r, "/")
		if r == "" || len(r) <= len(best) {
			continue
		}
		if clean == r || strings.HasPrefix(clean, r+"/") {
			best = r
		}
	}
	if best == "" {
		return TopicName(prefix, subject)
	}
	return TopicName(prefix, best)
}

// TopicNames maps every subject with TopicName and no prefix.
func TopicNames(subjects []string) []string {
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, TopicName("", s))
	}
	return out
}
