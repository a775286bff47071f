// Package server coordinates client registration, presence tracking, event
// routing, and connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// inboundEvent pairs a decoded envelope with the client it arrived on.
type inboundEvent struct {
	client *Client
	env    Envelope
}

// Hub owns the live connection set and the presence registry, and processes
// every event on a single goroutine: client arrivals, identity registration,
// routed events, disconnects, and presence broadcasts all run as
// non-preemptible reactions inside Run. That single-writer model is what
// keeps the registry consistent without locking; only the guarded send path
// is reached from other goroutines and is protected by the client-set mutex.
type Hub struct {
	clients    map[*Client]bool
	registry   *PresenceRegistry
	router     *Router
	notifier   PresenceNotifier
	register   chan *Client
	unregister chan *Client
	events     chan inboundEvent
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     zerolog.Logger
}

// NewHub creates a Hub with an empty registry, wired to the given upstream
// notifier. The returned Hub is ready to manage connections once Run is
// started.
func NewHub(notifier PresenceNotifier, logger zerolog.Logger) *Hub {
	if notifier == nil {
		notifier = noopNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*Client]bool),
		registry:   NewPresenceRegistry(),
		notifier:   notifier,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan inboundEvent),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "Hub").Logger(),
	}
	h.router = NewRouter(h.registry, h.deliver, logger)
	return h
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's main event loop. This method should be called in a
// separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn().Msg("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			if h.removeClient(client) {
				h.reconcileDisconnect(client)
			}

		case event := <-h.events:
			h.handleEvent(event)
		}
	}
}

// addClient admits a new connection and launches its pumps. The connection
// is not yet bound to an identity but already receives presence broadcasts.
func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info().Str("conn", client.id).Str("addr", client.addr).Int("total", clientCount).Msg("Client connected")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient drops a connection from the client set, reporting whether it
// was still a member. The send channel is closed exactly once, here, after
// the set mutation, so a connection can only ever be removed once.
func (h *Hub) removeClient(client *Client) bool {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.logger.Info().Str("conn", client.id).Str("addr", client.addr).Int("total", clientCount).Msg("Client disconnected")
	return true
}

// reconcileDisconnect releases the identity held by a closed connection. A
// connection that never registered, or whose identity was superseded by a
// reconnect, holds no binding and triggers neither an upstream call nor a
// broadcast.
func (h *Hub) reconcileDisconnect(client *Client) {
	identity, ok := h.registry.UnbindClient(client)
	if !ok {
		return
	}
	h.logger.Info().Str("identity", identity).Str("conn", client.id).Msg("User went offline")
	h.notifyUpstream(h.notifier.NotifyOffline, "setoffline", identity)
	h.broadcastActiveUsers()
}

// handleEvent dispatches one inbound event. The recover barrier isolates any
// unexpected failure to the event being handled, so a malformed or hostile
// frame cannot take down the hub loop for other connections.
func (h *Hub) handleEvent(event inboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("event", event.env.Event).Msg("Recovered from panic while handling event")
		}
	}()

	switch event.env.Event {
	case EventSendSocketID:
		h.handleRegistration(event.client, event.env)
	default:
		h.router.Route(event.client, event.env)
	}
}

// handleRegistration binds the announced phone number to the announcing
// connection, fires the upstream online call, and broadcasts the updated
// presence set. The identity is treated as an opaque key: no format checks,
// and a later registration for the same number silently supersedes the
// earlier connection.
func (h *Hub) handleRegistration(client *Client, env Envelope) {
	var reg registration
	if err := decodePayload(env.Data, &reg); err != nil {
		h.logger.Warn().Err(err).Str("conn", client.id).Msg("Invalid sendSocketID payload")
		return
	}

	h.registry.Bind(reg.PhoneNumber, client)
	h.logger.Info().Str("identity", reg.PhoneNumber).Str("conn", client.id).Msg("User registered")
	h.notifyUpstream(h.notifier.NotifyOnline, "setonline", reg.PhoneNumber)
	h.broadcastActiveUsers()
}

// notifyUpstream fires a best-effort presence call on its own goroutine with
// its own timeout. The hub loop never waits on it, and a failure is logged
// and swallowed without rolling back the registry mutation already applied.
func (h *Hub) notifyUpstream(call func(context.Context, string) error, transition, identity string) {
	timeout := currentConfig().UpstreamTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := call(ctx, identity); err != nil {
			h.logger.Warn().Err(err).Str("identity", identity).Str("transition", transition).Msg("Upstream presence notification failed")
		}
	}()
}

// broadcastActiveUsers sends the current identity snapshot to every
// connected client, registered or not. Clients whose send buffer is full are
// dropped and reconciled; when that frees identities the shrunken snapshot
// is broadcast again.
func (h *Hub) broadcastActiveUsers() {
	for {
		frame, err := EncodeEnvelope(EventActiveUsers, h.registry.Snapshot())
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to encode activeUsers broadcast")
			return
		}

		failed := h.broadcastFrame(frame)
		if len(failed) == 0 {
			return
		}
		if !h.dropFailedClients(failed) {
			return
		}
	}
}

// broadcastFrame delivers a frame to all clients and returns the ones that
// could not accept it.
func (h *Hub) broadcastFrame(frame []byte) []*Client {
	clients := h.getClientSnapshot()
	h.logger.Debug().Int("targets", len(clients)).Msg("Broadcasting presence update")

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, frame) {
			failed = append(failed, client)
		}
	}
	return failed
}

// dropFailedClients removes clients that failed a broadcast send, releasing
// any identities they held. It reports whether the presence set changed.
func (h *Hub) dropFailedClients(clients []*Client) bool {
	changed := false
	for _, client := range clients {
		if !h.removeClient(client) {
			continue
		}
		h.logger.Warn().Str("conn", client.id).Str("addr", client.addr).Msg("Client removed due to full send buffer")
		if identity, ok := h.registry.UnbindClient(client); ok {
			h.notifyUpstream(h.notifier.NotifyOffline, "setoffline", identity)
			changed = true
		}
	}
	return changed
}

// deliver encodes an outbound event and sends it to a single client. It is
// the router's delivery function.
func (h *Hub) deliver(client *Client, event string, data any) bool {
	frame, err := EncodeEnvelope(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode outbound event")
		return false
	}
	if !h.safeSend(client, frame) {
		h.logger.Warn().Str("event", event).Str("conn", client.id).Msg("Dropping event for unresponsive client")
		return false
	}
	return true
}

func (h *Hub) safeSend(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("Recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	// The send channel might be closed concurrently, hence the recover above.
	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// forward hands a decoded envelope from a read pump to the hub loop. It
// returns false once the hub is shutting down.
func (h *Hub) forward(client *Client, env Envelope) bool {
	select {
	case h.events <- inboundEvent{client: client, env: env}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info().Msg("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.logger.Warn().Err(err).Str("addr", client.addr).Msg("Error closing client connection")
				}
			}
		}
	}

	h.logger.Info().Int("count", len(clients)).Msg("Closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("Initiating hub shutdown...")

	h.cancel()

	// Wait for Run() to complete
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
