// Package integration contains integration tests for the relay server.
//
// These tests verify that multiple components work together correctly by
// exercising the complete system with real HTTP servers and WebSocket
// connections: identity registration, presence broadcasts, point-to-point
// message relay, call signaling, and disconnect reconciliation.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsechat/relay/internal/server"
	"github.com/pulsechat/relay/test/testhelpers"
)

// httpHandler builds a stub upstream presence service that records each
// setonline/setoffline call.
func httpHandler(record func(path, phone string)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PhoneNumber string `json:"phoneNumber"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		record(r.URL.Path, body.PhoneNumber)
		w.WriteHeader(http.StatusOK)
	})
}

// startRelay boots a hub and HTTP server for one test and returns the
// WebSocket URL. The hub and server are shut down via test cleanup.
func startRelay(t *testing.T, notifier server.PresenceNotifier) string {
	t.Helper()

	server.SetConfig(nil)
	t.Cleanup(func() { server.SetConfig(nil) })

	hub := server.NewHub(notifier, zerolog.Nop())
	server.StartHub(hub)
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	mux := server.SetupRoutes(hub, zerolog.Nop())
	testServer := testhelpers.CreateTestServer(mux)
	t.Cleanup(testServer.Close)

	return "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
}

// TestPresenceAndMessageRelay walks the full end-to-end scenario: two clients
// connect, register identities, observe presence broadcasts, exchange a
// message, and the survivor sees the presence set shrink on disconnect.
func TestPresenceAndMessageRelay(t *testing.T) {
	wsURL := startRelay(t, nil)

	x := testhelpers.ConnectWebSocket(t, wsURL)
	y := testhelpers.ConnectWebSocket(t, wsURL)

	testhelpers.Emit(t, x, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, x, []string{"111"})
	testhelpers.ExpectActiveUsers(t, y, []string{"111"})

	testhelpers.Emit(t, y, server.EventSendSocketID, map[string]string{"phoneNumber": "222"})
	testhelpers.ExpectActiveUsers(t, x, []string{"111", "222"})
	testhelpers.ExpectActiveUsers(t, y, []string{"111", "222"})

	testhelpers.Emit(t, y, server.EventSendMessage, map[string]string{
		"sender": "222", "receiver": "111", "text": "hi",
	})

	data := testhelpers.ExpectEvent(t, x, server.EventReceiveMessage)
	var msg map[string]string
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, map[string]string{"sender": "222", "receiver": "111", "text": "hi"}, msg)

	testhelpers.CloseWebSocket(t, x)
	testhelpers.ExpectActiveUsers(t, y, []string{"222"})
}

// TestMessageToOfflineReceiverIsDropped verifies best-effort delivery: a
// message to an unbound identity produces no outbound event for anyone.
func TestMessageToOfflineReceiverIsDropped(t *testing.T) {
	wsURL := startRelay(t, nil)

	x := testhelpers.ConnectWebSocket(t, wsURL)
	testhelpers.Emit(t, x, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, x, []string{"111"})

	testhelpers.Emit(t, x, server.EventSendMessage, map[string]string{
		"sender": "111", "receiver": "9999", "text": "anyone there?",
	})
	testhelpers.ExpectNoEvent(t, x, 200*time.Millisecond)
}

// TestDeleteMessageRelay verifies that deletion notices reach the receiver
// with the payload passed through unchanged.
func TestDeleteMessageRelay(t *testing.T) {
	wsURL := startRelay(t, nil)

	x := testhelpers.ConnectWebSocket(t, wsURL)
	y := testhelpers.ConnectWebSocket(t, wsURL)

	testhelpers.Emit(t, x, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, x, []string{"111"})
	testhelpers.ExpectActiveUsers(t, y, []string{"111"})
	testhelpers.Emit(t, y, server.EventSendSocketID, map[string]string{"phoneNumber": "222"})
	testhelpers.ExpectActiveUsers(t, x, []string{"111", "222"})
	testhelpers.ExpectActiveUsers(t, y, []string{"111", "222"})

	testhelpers.Emit(t, y, server.EventDeleteMessage, map[string]string{
		"receiver": "111", "messageId": "m-42",
	})

	data := testhelpers.ExpectEvent(t, x, server.EventDeleteReceiveMessage)
	var notice map[string]string
	require.NoError(t, json.Unmarshal(data, &notice))
	assert.Equal(t, "m-42", notice["messageId"])
}

// TestCallSignaling verifies the three-way call handshake: the offer reaches
// the callee reshaped to {signal, from}, the answer comes back as
// call-answered {signal}, and an explicit rejection arrives as call-rejected.
func TestCallSignaling(t *testing.T) {
	wsURL := startRelay(t, nil)

	caller := testhelpers.ConnectWebSocket(t, wsURL)
	callee := testhelpers.ConnectWebSocket(t, wsURL)

	testhelpers.Emit(t, caller, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, caller, []string{"111"})
	testhelpers.ExpectActiveUsers(t, callee, []string{"111"})
	testhelpers.Emit(t, callee, server.EventSendSocketID, map[string]string{"phoneNumber": "222"})
	testhelpers.ExpectActiveUsers(t, caller, []string{"111", "222"})
	testhelpers.ExpectActiveUsers(t, callee, []string{"111", "222"})

	testhelpers.Emit(t, caller, server.EventCallUser, map[string]any{
		"to": "222", "from": "111", "signal": map[string]string{"type": "offer", "sdp": "v=0"},
	})

	data := testhelpers.ExpectEvent(t, callee, server.EventReceiveCall)
	var call struct {
		Signal map[string]string `json:"signal"`
		From   string            `json:"from"`
	}
	require.NoError(t, json.Unmarshal(data, &call))
	assert.Equal(t, "111", call.From)
	assert.Equal(t, "offer", call.Signal["type"])

	testhelpers.Emit(t, callee, server.EventAnswerCall, map[string]any{
		"to": "111", "signal": map[string]string{"type": "answer"},
	})

	data = testhelpers.ExpectEvent(t, caller, server.EventCallAnswered)
	var answer struct {
		Signal map[string]string `json:"signal"`
	}
	require.NoError(t, json.Unmarshal(data, &answer))
	assert.Equal(t, "answer", answer.Signal["type"])

	testhelpers.Emit(t, callee, server.EventRejectCall, map[string]string{"to": "111"})
	testhelpers.ExpectEvent(t, caller, server.EventCallRejected)
}

// TestCallToOfflineUserRejected verifies call-rejection synthesis: calling an
// unbound identity bounces call-rejected straight back to the caller.
func TestCallToOfflineUserRejected(t *testing.T) {
	wsURL := startRelay(t, nil)

	caller := testhelpers.ConnectWebSocket(t, wsURL)
	testhelpers.Emit(t, caller, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, caller, []string{"111"})

	testhelpers.Emit(t, caller, server.EventCallUser, map[string]any{
		"to": "9999", "from": "111", "signal": map[string]string{"type": "offer"},
	})
	testhelpers.ExpectEvent(t, caller, server.EventCallRejected)
}

// TestReconnectSupersedesOldConnection verifies last-registration-wins over
// real connections: after a reconnect, messages flow to the new connection
// and closing the stale one does not disturb presence.
func TestReconnectSupersedesOldConnection(t *testing.T) {
	wsURL := startRelay(t, nil)

	old := testhelpers.ConnectWebSocket(t, wsURL)
	peer := testhelpers.ConnectWebSocket(t, wsURL)

	testhelpers.Emit(t, old, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, old, []string{"111"})
	testhelpers.ExpectActiveUsers(t, peer, []string{"111"})
	testhelpers.Emit(t, peer, server.EventSendSocketID, map[string]string{"phoneNumber": "222"})
	testhelpers.ExpectActiveUsers(t, old, []string{"111", "222"})
	testhelpers.ExpectActiveUsers(t, peer, []string{"111", "222"})

	fresh := testhelpers.ConnectWebSocket(t, wsURL)
	testhelpers.Emit(t, fresh, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, fresh, []string{"111", "222"})
	testhelpers.ExpectActiveUsers(t, peer, []string{"111", "222"})

	// Closing the superseded connection must not remove 111.
	testhelpers.CloseWebSocket(t, old)
	testhelpers.ExpectNoEvent(t, peer, 200*time.Millisecond)

	testhelpers.Emit(t, peer, server.EventSendMessage, map[string]string{
		"sender": "222", "receiver": "111", "text": "still there?",
	})
	data := testhelpers.ExpectEvent(t, fresh, server.EventReceiveMessage)
	var msg map[string]string
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "still there?", msg["text"])
}

// TestInvalidFramesDoNotKillConnection verifies the error-isolation boundary
// at the transport edge: garbage frames are dropped and the connection keeps
// working.
func TestInvalidFramesDoNotKillConnection(t *testing.T) {
	wsURL := startRelay(t, nil)

	x := testhelpers.ConnectWebSocket(t, wsURL)
	require.NoError(t, x.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	require.NoError(t, x.WriteMessage(websocket.TextMessage, []byte(`{"data":{"orphan":true}}`)))

	testhelpers.Emit(t, x, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, x, []string{"111"})
}

// TestUpstreamPresenceNotifications verifies the hub fires setonline on
// registration and setoffline on disconnect against a real HTTP upstream,
// and that nothing else depends on those calls succeeding.
func TestUpstreamPresenceNotifications(t *testing.T) {
	type upstreamCall struct {
		path  string
		phone string
	}
	calls := make(chan upstreamCall, 4)

	upstream := httptest.NewServer(httpHandler(func(path, phone string) {
		calls <- upstreamCall{path: path, phone: phone}
	}))
	defer upstream.Close()

	notifier := server.NewHTTPNotifier(upstream.URL, upstream.Client(), zerolog.Nop())
	wsURL := startRelay(t, notifier)

	x := testhelpers.ConnectWebSocket(t, wsURL)
	peer := testhelpers.ConnectWebSocket(t, wsURL)
	testhelpers.Emit(t, x, server.EventSendSocketID, map[string]string{"phoneNumber": "111"})
	testhelpers.ExpectActiveUsers(t, x, []string{"111"})
	testhelpers.ExpectActiveUsers(t, peer, []string{"111"})

	select {
	case call := <-calls:
		assert.Equal(t, upstreamCall{path: "/user/setonline", phone: "111"}, call)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for setonline call")
	}

	testhelpers.CloseWebSocket(t, x)
	testhelpers.ExpectActiveUsers(t, peer, []string{})

	select {
	case call := <-calls:
		assert.Equal(t, upstreamCall{path: "/user/setoffline", phone: "111"}, call)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for setoffline call")
	}
}
