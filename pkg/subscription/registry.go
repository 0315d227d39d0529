// Package subscription fans out stored and freshly-published events to
// live sessions. It generalizes the relay's broadcast primitive from a flat
// set of anonymous subscriber channels into one partitioned by session id,
// since Nostr subscriptions are named per-session (REQ/CLOSE) rather than
// fire-and-forget.
package subscription

import (
	"sync"

	"github.com/cuemby/mls-relay/pkg/types"
)

// Delivery is one event routed to a specific named subscription.
type Delivery struct {
	SubID string
	Event *types.Event
}

// Subscriber is the channel a session drains deliveries from.
type Subscriber chan *Delivery

// Registry partitions subscriptions by session id and fans out published
// events to every subscription whose filters match.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Subscriber               // sessionID -> delivery channel
	subs     map[string]map[string]*types.Subscription // sessionID -> subID -> subscription

	eventCh chan *types.Event
	stopCh  chan struct{}
}

// NewRegistry creates an empty registry. Start must be called before
// Publish has any effect.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Subscriber),
		subs:     make(map[string]map[string]*types.Subscription),
		eventCh:  make(chan *types.Event, 1024),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the registry's broadcast loop.
func (r *Registry) Start() {
	go r.run()
}

// Stop halts the broadcast loop. It does not close session channels.
func (r *Registry) Stop() {
	close(r.stopCh)
}

// Register creates a session's delivery channel. Calling Register twice for
// the same session id replaces the previous channel without closing it.
func (r *Registry) Register(sessionID string) Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(Subscriber, 256)
	r.channels[sessionID] = ch
	r.subs[sessionID] = make(map[string]*types.Subscription)
	return ch
}

// Unregister drops every subscription owned by a session and closes its
// delivery channel.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[sessionID]; ok {
		close(ch)
		delete(r.channels, sessionID)
	}
	delete(r.subs, sessionID)
}

// AddSubscription installs or replaces a named subscription for a session,
// matching REQ's replace-on-same-id semantics.
func (r *Registry) AddSubscription(sessionID, subID string, filters []*types.Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[sessionID] == nil {
		r.subs[sessionID] = make(map[string]*types.Subscription)
	}
	r.subs[sessionID][subID] = &types.Subscription{ID: subID, Filters: filters}
}

// RemoveSubscription drops a single named subscription (CLOSE).
func (r *Registry) RemoveSubscription(sessionID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.subs[sessionID]; ok {
		delete(m, subID)
	}
}

// SubscriptionCount returns how many subscriptions a session currently
// holds, for enforcing the per-session subscription cap.
func (r *Registry) SubscriptionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[sessionID])
}

// Publish enqueues an event for broadcast. It blocks only while the
// internal queue is full; once the registry has been stopped it returns
// without enqueuing.
func (r *Registry) Publish(e *types.Event) {
	select {
	case r.eventCh <- e:
	case <-r.stopCh:
	}
}

func (r *Registry) run() {
	for {
		select {
		case e := <-r.eventCh:
			r.broadcast(e)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) broadcast(e *types.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for sessionID, subs := range r.subs {
		ch, ok := r.channels[sessionID]
		if !ok {
			continue
		}
		for subID, sub := range subs {
			if !sub.MatchesAny(e) {
				continue
			}
			select {
			case ch <- &Delivery{SubID: subID, Event: e}:
			default:
				// session's channel is full; drop rather than block the broadcast loop.
			}
		}
	}
}

// SessionCount reports how many sessions are currently registered.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
