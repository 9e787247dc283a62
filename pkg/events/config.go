// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes recording lifecycle notifications.
//
// The pipeline calls the Emitter, which queues events on the taskqueue and
// returns immediately. A DeliveryHandler running on a taskqueue Worker hands
// each event to the configured publishers (Redis Pub/Sub, Kafka).
package events

import (
	"time"
)

// Config holds event notification configuration.
type Config struct {
	// Enabled controls whether events are queued at all.
	Enabled bool `mapstructure:"enabled"`

	Region string `mapstructure:"region"`

	// Events filters what is delivered; empty delivers everything.
	Events []string `mapstructure:"events"`

	// QueueSize bounds undelivered events held in memory.
	QueueSize int `mapstructure:"queue_size"`

	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds Redis publisher settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Channel is the prefix; events go to "{channel}:{recording_id}".
	Channel string `mapstructure:"channel"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all.
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: none, gzip, snappy, lz4, zstd.
	Compression  string        `mapstructure:"compression"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	TLS           bool   `mapstructure:"tls"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	SASLMechanism string `mapstructure:"sasl_mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	c := Config{}
	c.Validate()
	return c
}

// Validate applies defaults for unset or invalid values.
func (c *Config) Validate() {
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "rtastore:events"
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.WriteTimeout <= 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "rtastore-recordings"
	}
	if c.Kafka.RequiredAcks < -1 || c.Kafka.RequiredAcks > 1 {
		c.Kafka.RequiredAcks = 1
	}
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = "snappy"
	}
	if c.Kafka.BatchSize <= 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout <= 0 {
		c.Kafka.BatchTimeout = time.Second
	}
	if c.Kafka.WriteTimeout <= 0 {
		c.Kafka.WriteTimeout = 10 * time.Second
	}
}

// HasPublishers reports whether any publisher is enabled.
func (c *Config) HasPublishers() bool {
	return c.Redis.Enabled || c.Kafka.Enabled
}

// Filter returns the configured event patterns.
func (c *Config) Filter() []EventType {
	out := make([]EventType, 0, len(c.Events))
	for _, e := range c.Events {
		out = append(out, EventType(e))
	}
	return out
}
