// Package server notifies the upstream presence service of online/offline
// transitions via the PresenceNotifier implementations.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// PresenceNotifier records identity online/offline transitions with an
// external presence service. Calls are best effort: the hub fires them on
// their own goroutine, logs failures, and never lets the result affect
// registry state or presence broadcasts.
type PresenceNotifier interface {
	NotifyOnline(ctx context.Context, identity string) error
	NotifyOffline(ctx context.Context, identity string) error
}

// HTTPNotifier implements PresenceNotifier against the upstream REST API,
// posting {"phoneNumber": ...} to /user/setonline and /user/setoffline.
type HTTPNotifier struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPNotifier creates a notifier for the given base URL. An empty base
// URL is accepted; every call then fails with a configuration error that the
// hub logs and swallows, so running without an upstream never crashes the
// process.
func NewHTTPNotifier(baseURL string, client *http.Client, logger zerolog.Logger) *HTTPNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNotifier{
		baseURL: baseURL,
		client:  client,
		logger:  logger.With().Str("component", "HTTPNotifier").Logger(),
	}
}

// NotifyOnline records an identity as online with the upstream service.
func (n *HTTPNotifier) NotifyOnline(ctx context.Context, identity string) error {
	return n.post(ctx, "/user/setonline", identity)
}

// NotifyOffline records an identity as offline with the upstream service.
func (n *HTTPNotifier) NotifyOffline(ctx context.Context, identity string) error {
	return n.post(ctx, "/user/setoffline", identity)
}

func (n *HTTPNotifier) post(ctx context.Context, path string, identity string) error {
	if n.baseURL == "" {
		return fmt.Errorf("upstream presence service URL is not configured")
	}

	payload, err := json.Marshal(registration{PhoneNumber: identity})
	if err != nil {
		return fmt.Errorf("marshal presence payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create presence request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			n.logger.Warn().Err(closeErr).Msg("Error closing upstream response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call %s: unexpected status %d", path, resp.StatusCode)
	}

	n.logger.Debug().Str("identity", identity).Str("path", path).Msg("Upstream presence updated")
	return nil
}

// noopNotifier satisfies PresenceNotifier when no upstream is wired, e.g. in
// tests.
type noopNotifier struct{}

func (noopNotifier) NotifyOnline(context.Context, string) error  { return nil }
func (noopNotifier) NotifyOffline(context.Context, string) error { return nil }
