// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package supervisor

import (
	"context"
	"errors"
	"time"
)

// Broker matches the embedded NATS server's lifecycle so the wrapper
// can be tested with a double.
type Broker interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// ErrBrokerStopped is returned when the broker exits outside a
// requested shutdown, so suture restarts the service.
var ErrBrokerStopped = errors.New("broker stopped unexpectedly")

// BrokerService supervises an already-started embedded broker. It
// watches the running state and shuts the broker down when the context
// is canceled.
type BrokerService struct {
	broker          Broker
	checkInterval   time.Duration
	shutdownTimeout time.Duration
}

// NewBrokerService wraps broker for supervision.
func NewBrokerService(broker Broker, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{
		broker:          broker,
		checkInterval:   5 * time.Second,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service.
func (s *BrokerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.broker.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return ctx.Err()

		case <-ticker.C:
			if !s.broker.IsRunning() {
				return ErrBrokerStopped
			}
		}
	}
}

// String implements fmt.Stringer for supervisor log messages.
func (s *BrokerService) String() string {
	return "nats-server"
}
