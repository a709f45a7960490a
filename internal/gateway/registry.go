package gateway

import (
	"sort"
	"sync"

	"github.com/angelmondragon/txnflow/pkg/events"
)

// Registry maps subscription keys to connected client ids. It keeps a reverse
// index per client so disconnects touch only that client's keys. Empty keys are
// pruned on every mutation.
type Registry struct {
	mu       sync.Mutex
	subs     map[Key]map[string]struct{}
	byClient map[string]map[Key]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		subs:     map[Key]map[string]struct{}{},
		byClient: map[string]map[Key]struct{}{},
	}
}

// Subscribe adds clientID under key. It reports false when already present.
func (r *Registry) Subscribe(clientID string, key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, ok := r.subs[key]
	if !ok {
		clients = map[string]struct{}{}
		r.subs[key] = clients
	}
	if _, exists := clients[clientID]; exists {
		return false
	}
	clients[clientID] = struct{}{}

	keys, ok := r.byClient[clientID]
	if !ok {
		keys = map[Key]struct{}{}
		r.byClient[clientID] = keys
	}
	keys[key] = struct{}{}
	return true
}

// Unsubscribe removes clientID from key. It reports false when it was not there.
func (r *Registry) Unsubscribe(clientID string, key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(clientID, key)
}

// Disconnect removes clientID from every key and returns the keys it held.
func (r *Registry) Disconnect(clientID string) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := make([]Key, 0, len(r.byClient[clientID]))
	for key := range r.byClient[clientID] {
		held = append(held, key)
	}
	for _, key := range held {
		r.removeLocked(clientID, key)
	}
	sortKeys(held)
	return held
}

func (r *Registry) removeLocked(clientID string, key Key) bool {
	clients, ok := r.subs[key]
	if !ok {
		return false
	}
	if _, exists := clients[clientID]; !exists {
		return false
	}
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(r.subs, key)
	}
	if keys, ok := r.byClient[clientID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.byClient, clientID)
		}
	}
	return true
}

// Target is one delivery: a client under the key that matched.
type Target struct {
	Key      Key
	ClientID string
}

// Match returns one target per (matching key, client). A client subscribed under
// two matching keys appears twice.
func (r *Registry) Match(env events.Envelope) []Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Target
	for key, clients := range r.subs {
		if !key.Matches(env) {
			continue
		}
		for clientID := range clients {
			out = append(out, Target{Key: key, ClientID: clientID})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// Keys returns the active keys in sorted order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.subs))
	for key := range r.subs {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

// Len returns the number of active keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
