// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package directory is the boundary to the identity directory service that
// owns user records. Flagwarden only reads display information from it, and
// only best-effort: a failing directory degrades audit enrichment, never
// mutations.
package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/flagwarden/flagwarden/internal/logging"
	"github.com/flagwarden/flagwarden/internal/metrics"
)

// User is the directory's view of an identity.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// Directory resolves user IDs to directory records.
// Implementations return (nil, nil) when the user does not exist; a missing
// record is not an error.
type Directory interface {
	ResolveUser(ctx context.Context, id string) (*User, error)
}

// HTTPDirectory resolves users against the directory service's REST API.
// Calls run behind a circuit breaker so a flapping directory cannot stall
// the mutation path it enriches.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*User]
}

// Config holds HTTP directory client settings.
type Config struct {
	// BaseURL is the directory service root, e.g. http://directory:8080.
	BaseURL string

	// Timeout bounds each lookup. Default: 3s.
	Timeout time.Duration

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Default: 5.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open. Default: 30s.
	OpenTimeout time.Duration
}

// NewHTTPDirectory creates a breaker-protected directory client.
func NewHTTPDirectory(cfg Config) *HTTPDirectory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "identity-directory",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Directory circuit breaker state changed")
		},
	}

	return &HTTPDirectory{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[*User](settings),
	}
}

// ResolveUser implements Directory. Returns (nil, nil) for an unknown user
// and an error for transport failures or an open breaker.
func (d *HTTPDirectory) ResolveUser(ctx context.Context, id string) (*User, error) {
	user, err := d.breaker.Execute(func() (*User, error) {
		return d.fetchUser(ctx, id)
	})
	switch {
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		metrics.RecordDirectoryLookup("open")
		return nil, fmt.Errorf("directory unavailable: %w", err)
	case err != nil:
		metrics.RecordDirectoryLookup("error")
		return nil, err
	case user == nil:
		metrics.RecordDirectoryLookup("miss")
		return nil, nil
	default:
		metrics.RecordDirectoryLookup("hit")
		return user, nil
	}
}

func (d *HTTPDirectory) fetchUser(ctx context.Context, id string) (*User, error) {
	endpoint := d.baseURL + "/api/v1/users/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var user User
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return nil, fmt.Errorf("failed to decode directory response: %w", err)
		}
		return &user, nil
	case http.StatusNotFound:
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, nil
	default:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}
}

// BreakerState reports the circuit breaker state for health reporting.
func (d *HTTPDirectory) BreakerState() string {
	return d.breaker.State().String()
}

// StaticDirectory serves a fixed user set. Used in development and tests.
type StaticDirectory struct {
	users map[string]User
}

// NewStaticDirectory creates a directory over a fixed user list.
func NewStaticDirectory(users []User) *StaticDirectory {
	byID := make(map[string]User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	return &StaticDirectory{users: byID}
}

// ResolveUser implements Directory.
func (d *StaticDirectory) ResolveUser(_ context.Context, id string) (*User, error) {
	if user, ok := d.users[id]; ok {
		u := user
		metrics.RecordDirectoryLookup("hit")
		return &u, nil
	}
	metrics.RecordDirectoryLookup("miss")
	return nil, nil
}
