// Package server resolves routed events to their target connection and
// forwards, reshapes, or drops them via the Router type.
package server

import (
	"github.com/rs/zerolog"
)

// sendFunc delivers an encoded outbound event to a client, reporting whether
// the frame was accepted for delivery. The hub supplies its own guarded send
// so the router never touches connection state directly.
type sendFunc func(client *Client, event string, data any) bool

// Router is the relay's routing engine. Given an inbound event it resolves
// the target identity against the registry and either forwards the payload
// (messages pass through unchanged, call signaling is reshaped) or drops it.
// Delivery is best effort: an offline target is a normal outcome, not an
// error, and nothing is queued or retried.
type Router struct {
	registry *PresenceRegistry
	send     sendFunc
	logger   zerolog.Logger
}

// NewRouter creates a routing engine over the given registry and delivery
// function.
func NewRouter(registry *PresenceRegistry, send sendFunc, logger zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		send:     send,
		logger:   logger.With().Str("component", "Router").Logger(),
	}
}

// Route dispatches one inbound event from a client. It returns true when the
// event was delivered to its target and false when it was dropped. Unknown
// event names are dropped with a log line; the sender's connection is never
// affected by a routing outcome.
func (rt *Router) Route(from *Client, env Envelope) bool {
	switch env.Event {
	case EventSendMessage:
		return rt.relayMessage(env)
	case EventDeleteMessage:
		return rt.relayDeletion(env)
	case EventCallUser:
		return rt.placeCall(from, env)
	case EventAnswerCall:
		return rt.answerCall(env)
	case EventRejectCall:
		return rt.rejectCall(env)
	default:
		rt.logger.Warn().Str("event", env.Event).Msg("Dropping event with unknown name")
		return false
	}
}

// relayMessage forwards a sendMessage payload untouched to the receiver's
// connection as receiveMessage.
func (rt *Router) relayMessage(env Envelope) bool {
	var addr messageAddress
	if err := decodePayload(env.Data, &addr); err != nil {
		rt.logger.Warn().Err(err).Msg("Invalid sendMessage payload")
		return false
	}

	target, ok := rt.registry.Lookup(addr.Receiver)
	if !ok {
		rt.logger.Info().Str("receiver", addr.Receiver).Msg("Receiver is offline; dropping message")
		return false
	}

	rt.logger.Info().Str("sender", addr.Sender).Str("receiver", addr.Receiver).Msg("Relaying message")
	return rt.send(target, EventReceiveMessage, env.Data)
}

// relayDeletion forwards a deleteMessage payload untouched to the receiver as
// deleteReceiveMessage. Misses are silent.
func (rt *Router) relayDeletion(env Envelope) bool {
	var addr messageAddress
	if err := decodePayload(env.Data, &addr); err != nil {
		rt.logger.Warn().Err(err).Msg("Invalid deleteMessage payload")
		return false
	}

	target, ok := rt.registry.Lookup(addr.Receiver)
	if !ok {
		return false
	}
	return rt.send(target, EventDeleteReceiveMessage, env.Data)
}

// placeCall forwards a call offer to the callee as receive-call, reshaped to
// {signal, from}. When the callee is offline a synthetic call-rejected is
// sent back to the caller's own connection so the caller can stop ringing.
func (rt *Router) placeCall(from *Client, env Envelope) bool {
	var offer callOffer
	if err := decodePayload(env.Data, &offer); err != nil {
		rt.logger.Warn().Err(err).Msg("Invalid call-user payload")
		return false
	}

	target, ok := rt.registry.Lookup(offer.To)
	if !ok {
		rt.logger.Info().Str("from", offer.From).Str("to", offer.To).Msg("Callee is offline; rejecting call")
		rt.send(from, EventCallRejected, nil)
		return false
	}

	rt.logger.Info().Str("from", offer.From).Str("to", offer.To).Msg("Relaying call offer")
	return rt.send(target, EventReceiveCall, incomingCall{Signal: offer.Signal, From: offer.From})
}

// answerCall forwards a call answer to the original caller as call-answered,
// reshaped to {signal}. Misses are silent.
func (rt *Router) answerCall(env Envelope) bool {
	var answer callAnswer
	if err := decodePayload(env.Data, &answer); err != nil {
		rt.logger.Warn().Err(err).Msg("Invalid answer-call payload")
		return false
	}

	target, ok := rt.registry.Lookup(answer.To)
	if !ok {
		return false
	}
	return rt.send(target, EventCallAnswered, answeredCall{Signal: answer.Signal})
}

// rejectCall forwards a call rejection to the caller as call-rejected with no
// payload. Misses are silent.
func (rt *Router) rejectCall(env Envelope) bool {
	var reject callTarget
	if err := decodePayload(env.Data, &reject); err != nil {
		rt.logger.Warn().Err(err).Msg("Invalid reject-call payload")
		return false
	}

	target, ok := rt.registry.Lookup(reject.To)
	if !ok {
		return false
	}
	return rt.send(target, EventCallRejected, nil)
}
