// Package server defines the wire-level event contract shared by clients and
// the hub: the JSON envelope, the inbound and outbound event names, and the
// payload shapes for registration and call signaling.
package server

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event names (client → hub).
const (
	EventSendSocketID  = "sendSocketID"
	EventSendMessage   = "sendMessage"
	EventDeleteMessage = "deleteMessage"
	EventCallUser      = "call-user"
	EventAnswerCall    = "answer-call"
	EventRejectCall    = "reject-call"
)

// Outbound event names (hub → client).
const (
	EventActiveUsers          = "activeUsers"
	EventReceiveMessage       = "receiveMessage"
	EventDeleteReceiveMessage = "deleteReceiveMessage"
	EventReceiveCall          = "receive-call"
	EventCallAnswered         = "call-answered"
	EventCallRejected         = "call-rejected"
)

// Envelope is the framing for every event exchanged over a connection: a
// named event plus an opaque JSON payload. Message payloads pass through the
// hub as raw bytes so client-defined fields survive relaying untouched.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a raw frame into an Envelope, rejecting frames that
// are not JSON objects or carry no event name.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid event frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("event frame missing event name")
	}
	return env, nil
}

// EncodeEnvelope marshals an outbound event and its payload into a frame.
// A nil payload produces an envelope with no data field (e.g. call-rejected).
func EncodeEnvelope(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = payload
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// decodePayload unmarshals an event payload, treating an absent data field
// as an error so handlers never act on zero-valued payloads.
func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("event payload is missing")
	}
	return json.Unmarshal(data, v)
}

// registration is the sendSocketID payload binding a phone number to the
// announcing connection.
type registration struct {
	PhoneNumber string `json:"phoneNumber"`
}

// messageAddress extracts only the routing fields of a sendMessage or
// deleteMessage payload; the remaining fields are relayed as-is.
type messageAddress struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

// callOffer is the call-user payload.
type callOffer struct {
	To     string          `json:"to"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// callAnswer is the answer-call payload.
type callAnswer struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// callTarget is the reject-call payload.
type callTarget struct {
	To string `json:"to"`
}

// incomingCall is the reshaped payload delivered to a callee as receive-call.
type incomingCall struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
}

// answeredCall is the reshaped payload delivered to a caller as call-answered.
type answeredCall struct {
	Signal json.RawMessage `json:"signal"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
