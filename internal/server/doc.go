// Package server implements the Pulse Relay presence and message-relay hub.
//
// Clients connect over WebSocket, announce a phone-number identity, and the
// hub routes point-to-point messages, deletion notices, and call-signaling
// events between identities while broadcasting the live identity set to every
// connection. The implementation is organized into specialized files for the
// presence registry, routing engine, hub event loop, clients, upstream
// notification, configuration, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
