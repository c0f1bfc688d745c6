// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package notify is the fire-and-forget real-time notification boundary.
// Successful mutations are broadcast over a watermill publisher so admin
// sessions and general subscribers see changes without polling; a publish
// failure is logged and dropped, never surfaced to the mutation caller.
package notify

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/flagwarden/flagwarden/internal/logging"
	"github.com/flagwarden/flagwarden/internal/metrics"
	"github.com/flagwarden/flagwarden/internal/models"
)

// Topics published by the notifier.
const (
	// TopicFlagsChanged carries the minimal flag state general subscribers
	// need to react to a change.
	TopicFlagsChanged = "flags.changed"

	// TopicFlagsAdmin carries richer mutation events for connected admin
	// sessions.
	TopicFlagsAdmin = "flags.admin"
)

// FlagChangedEvent is the broadcast payload on TopicFlagsChanged.
type FlagChangedEvent struct {
	Key           string         `json:"key"`
	Enabled       bool           `json:"enabled"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// AdminEvent is the payload on TopicFlagsAdmin.
type AdminEvent struct {
	Action    string    `json:"action"`
	FlagID    string    `json:"flag_id"`
	FlagKey   string    `json:"flag_key"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes mutation events over a watermill publisher.
// It satisfies the flag service's notifier boundary.
type Notifier struct {
	publisher message.Publisher
}

// NewNotifier wraps a watermill publisher.
func NewNotifier(publisher message.Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// FlagChanged broadcasts the flag's new state to general subscribers.
func (n *Notifier) FlagChanged(ctx context.Context, flag *models.FeatureFlag) {
	n.publish(ctx, TopicFlagsChanged, FlagChangedEvent{
		Key:           flag.Key,
		Enabled:       flag.Enabled,
		Configuration: flag.Configuration,
	})
}

// AdminEvent pushes a mutation event to connected admin sessions.
func (n *Notifier) AdminEvent(ctx context.Context, action string, flag *models.FeatureFlag, actorID string) {
	n.publish(ctx, TopicFlagsAdmin, AdminEvent{
		Action:    action,
		FlagID:    flag.ID,
		FlagKey:   flag.Key,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
	})
}

// publish serializes and sends one event. Errors are logged and dropped.
func (n *Notifier) publish(ctx context.Context, topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		metrics.RecordNotifyPublish(topic, err)
		logger := logging.Ctx(ctx)
		logger.Error().Err(err).Str("topic", topic).Msg("Failed to serialize notification")
		return
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		msg.Metadata.Set("request_id", id)
	}

	err = n.publisher.Publish(topic, msg)
	metrics.RecordNotifyPublish(topic, err)
	if err != nil {
		logger := logging.Ctx(ctx)
		logger.Error().Err(err).Str("topic", topic).Msg("Notification publish dropped")
	}
}

// Close closes the underlying publisher.
func (n *Notifier) Close() error {
	return n.publisher.Close()
}

// Noop is a notifier that does nothing. Used when notifications are
// disabled.
type Noop struct{}

// FlagChanged implements the notifier boundary.
func (Noop) FlagChanged(context.Context, *models.FeatureFlag) {}

// AdminEvent implements the notifier boundary.
func (Noop) AdminEvent(context.Context, string, *models.FeatureFlag, string) {}
