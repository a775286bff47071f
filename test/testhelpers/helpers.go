// Package testhelpers provides common utilities and helper functions for
// testing the relay server.
//
// It contains reusable helpers shared across unit and integration tests:
// creating test servers, dialing WebSocket connections, emitting event
// envelopes, and asserting on received events.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsechat/relay/internal/server"
)

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "Failed to create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "Failed to make request")
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err, "Failed to connect to WebSocket")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Emit sends a named event with a payload over the connection, framed the
// way the relay expects.
func Emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	var payload json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err, "Failed to marshal event payload")
		payload = raw
	}
	frame, err := json.Marshal(server.Envelope{Event: event, Data: payload})
	require.NoError(t, err, "Failed to marshal envelope")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame), "Failed to send event")
}

// Receive reads the next event envelope from the connection, failing the
// test if nothing arrives within the timeout.
func Receive(t *testing.T, conn *websocket.Conn, timeout time.Duration) server.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read event")

	env, err := server.DecodeEnvelope(frame)
	require.NoError(t, err, "Received undecodable frame")
	return env
}

// ExpectEvent reads the next envelope and asserts its event name, returning
// the payload for further checks.
func ExpectEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()

	env := Receive(t, conn, 2*time.Second)
	require.Equal(t, event, env.Event, "unexpected event")
	return env.Data
}

// ExpectActiveUsers reads the next envelope and asserts it is an activeUsers
// broadcast carrying exactly the given identities in order.
func ExpectActiveUsers(t *testing.T, conn *websocket.Conn, want []string) {
	t.Helper()

	data := ExpectEvent(t, conn, server.EventActiveUsers)
	var users []string
	require.NoError(t, json.Unmarshal(data, &users))
	assert.Equal(t, want, users)
}

// ExpectNoEvent asserts that nothing arrives on the connection within the
// timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, frame, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no event, but received: %s", frame)
	}
	netErr, ok := err.(interface{ Timeout() bool })
	require.True(t, ok && netErr.Timeout(), "unexpected error while waiting for absence of events: %v", err)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	require.NoError(t, err, "Failed to send close message")
	require.NoError(t, conn.Close(), "Failed to close connection")
}
