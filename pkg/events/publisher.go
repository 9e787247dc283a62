// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/taskqueue"
)

// Publisher is an event notification backend.
type Publisher interface {
	// Name returns the publisher identifier (e.g. "redis", "kafka").
	Name() string

	// Publish sends an event. recordingID keys ordering where the backend
	// supports it.
	Publish(ctx context.Context, recordingID string, event []byte) error

	Close() error
}

// DeliveryHandler drains event tasks into publishers.
type DeliveryHandler struct {
	publishers []Publisher
	filter     []EventType
}

// NewDeliveryHandler creates a handler delivering events that match filter
// to every publisher.
func NewDeliveryHandler(publishers []Publisher, filter []EventType) *DeliveryHandler {
	return &DeliveryHandler{publishers: publishers, filter: filter}
}

// Type returns the task type this handler processes.
func (h *DeliveryHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeEvent
}

// Handle publishes the task's event. Any publisher failure is returned so the
// queue retries the task.
func (h *DeliveryHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	ev, err := taskqueue.UnmarshalPayload[Event](task.Payload)
	if err != nil {
		logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to unmarshal event payload")
		return nil
	}

	if !Matches(h.filter, ev.Name) {
		logger.Debug().Str("event", string(ev.Name)).Msg("event filtered")
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}

	var lastErr error
	for _, pub := range h.publishers {
		if err := pub.Publish(ctx, ev.RecordingID, data); err != nil {
			logger.Warn().
				Err(err).
				Str("publisher", pub.Name()).
				Str("recording_id", ev.RecordingID).
				Str("event", string(ev.Name)).
				Msg("failed to publish event")
			lastErr = err
			EventsDeliveryErrorsTotal.WithLabelValues(pub.Name()).Inc()
			continue
		}
		EventsDeliveredTotal.WithLabelValues(pub.Name()).Inc()
	}
	return lastErr
}

// Close closes every publisher.
func (h *DeliveryHandler) Close() error {
	var errs []error
	for _, pub := range h.publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// NewPublishers builds the publishers enabled in cfg.
func NewPublishers(cfg Config) ([]Publisher, error) {
	var pubs []Publisher
	if cfg.Redis.Enabled {
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.Kafka.Enabled {
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			for _, pub := range pubs {
				_ = pub.Close()
			}
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}
