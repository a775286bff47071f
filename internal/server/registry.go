// Package server tracks which application identities are online and on which
// connection via the PresenceRegistry type.
package server

// PresenceRegistry is the single source of truth for identity presence: a
// bidirectional mapping between phone-number identities and live clients.
// The forward and reverse maps are mutated only together, inside Bind and
// UnbindClient, so they can never disagree.
//
// The registry is owned by the hub's event loop and must only be touched from
// that goroutine; it carries no lock of its own.
type PresenceRegistry struct {
	byIdentity map[string]*Client
	byClient   map[*Client]string
	order      []string
}

// NewPresenceRegistry creates an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		byIdentity: make(map[string]*Client),
		byClient:   make(map[*Client]string),
	}
}

// Bind associates an identity with a client, unconditionally superseding any
// earlier binding for the same identity. The superseded client stays
// connected but is no longer addressable; its eventual close finds no entry
// and cleans up nothing. A client announcing a second identity likewise
// releases its previous one, so each client holds at most one binding.
func (r *PresenceRegistry) Bind(identity string, client *Client) {
	if previous, ok := r.byIdentity[identity]; ok {
		delete(r.byClient, previous)
	} else {
		r.order = append(r.order, identity)
	}
	if previousIdentity, ok := r.byClient[client]; ok && previousIdentity != identity {
		delete(r.byIdentity, previousIdentity)
		r.dropFromOrder(previousIdentity)
	}
	r.byIdentity[identity] = client
	r.byClient[client] = identity
}

// Lookup returns the client currently bound to an identity.
func (r *PresenceRegistry) Lookup(identity string) (*Client, bool) {
	client, ok := r.byIdentity[identity]
	return client, ok
}

// Identity returns the identity currently bound to a client.
func (r *PresenceRegistry) Identity(client *Client) (string, bool) {
	identity, ok := r.byClient[client]
	return identity, ok
}

// UnbindClient removes the binding held by a client and returns the freed
// identity. A client with no binding (never registered, or superseded by a
// reconnect) is a no-op returning false, which makes disconnect
// reconciliation idempotent.
func (r *PresenceRegistry) UnbindClient(client *Client) (string, bool) {
	identity, ok := r.byClient[client]
	if !ok {
		return "", false
	}
	delete(r.byClient, client)
	delete(r.byIdentity, identity)
	r.dropFromOrder(identity)
	return identity, true
}

// Snapshot returns the online identities in registration order. The slice is
// a copy and safe to hold across later mutations.
func (r *PresenceRegistry) Snapshot() []string {
	snapshot := make([]string, len(r.order))
	copy(snapshot, r.order)
	return snapshot
}

// Len reports how many identities are currently bound.
func (r *PresenceRegistry) Len() int {
	return len(r.byIdentity)
}

func (r *PresenceRegistry) dropFromOrder(identity string) {
	for i, existing := range r.order {
		if existing == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
