// Package relay forwards committed market events from the outbox to
// external connectors.
package relay

import "time"

// Config defines the relay configuration.
type Config struct {
	// Enabled toggles the relay loop.
	Enabled bool `yaml:"enabled"`
	// Interval is the outbox poll period.
	Interval time.Duration `yaml:"interval"`
	// BatchSize is the maximum number of events delivered per poll.
	BatchSize int `yaml:"batch_size"`
	// DeliverTimeout bounds one delivery to one connector.
	DeliverTimeout time.Duration `yaml:"deliver_timeout"`
	// Types limits which event types each connector is built to accept.
	// Empty relays all.
	Types []string `yaml:"types"`
	// Kafka configures the Kafka connector. It is used when brokers are set.
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig names the brokers and topic events are produced to.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Interval:       time.Second,
		BatchSize:      100,
		DeliverTimeout: 5 * time.Second,
		Kafka: KafkaConfig{
			Topic: "cmkt.events",
		},
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	out := *c
	if out.Interval <= 0 {
		out.Interval = d.Interval
	}
	if out.BatchSize <= 0 {
		out.BatchSize = d.BatchSize
	}
	if out.DeliverTimeout <= 0 {
		out.DeliverTimeout = d.DeliverTimeout
	}
	if out.Kafka.Topic == "" {
		out.Kafka.Topic = d.Kafka.Topic
	}
	return &out
}
