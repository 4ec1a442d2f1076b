package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Publisher overrides the outbound transport settings of a profile.
type Publisher struct {
	Brokers      []string `yaml:"brokers"`
	ClientID     string   `yaml:"client_id"`
	TopicPrefix  string   `yaml:"topic_prefix"`
	RequiredAcks string   `yaml:"required_acks"`
}

// LoadPublisher reads a YAML publisher file. An empty path yields the zero value.
func LoadPublisher(path string) (Publisher, error) {
	var p Publisher
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read publisher config: %w", err)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("parse publisher config %s: %w", path, err)
	}
	switch p.RequiredAcks {
	case "", "all", "one", "none":
	default:
		return p, fmt.Errorf("parse publisher config %s: required_acks must be all, one or none, got %q", path, p.RequiredAcks)
	}
	return p, nil
}
