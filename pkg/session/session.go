package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/mls-relay/pkg/eventstore"
	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/nostrcore"
	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/subscription"
	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/google/uuid"
)

// KindAuth is the NIP-42 authentication event kind.
const KindAuth = 22242

// authWindow bounds how far an AUTH event's created_at may drift from now
// in either direction. It is fixed, independent of the configurable
// timestamp window enforced on ordinary EVENT frames.
const authWindow = 10 * time.Minute

// Session is one connection's state machine: authentication, subscription
// admission, and event ingestion. It is transport-independent; pkg/wsserver
// owns the socket and calls into a Session for every inbound frame.
type Session struct {
	id    string
	store eventstore.Store
	chain *extension.Chain
	subs  *subscription.Registry
	out   subscription.Subscriber

	maxSubscriptions int

	mu        sync.Mutex
	state     types.AuthState
	challenge string
	authed    string // authenticated pubkey, empty until AuthStateAuthenticated
}

// New opens a session, registers it with the subscription registry, and
// issues its NIP-42 challenge. The caller must send the returned challenge
// to the client as an ["AUTH", challenge] frame.
func New(store eventstore.Store, chain *extension.Chain, subs *subscription.Registry, maxSubscriptions int) *Session {
	id := uuid.NewString()
	s := &Session{
		id:               id,
		store:            store,
		chain:            chain,
		subs:             subs,
		out:              subs.Register(id),
		maxSubscriptions: maxSubscriptions,
		state:            types.AuthStateChallengeIssued,
		challenge:        uuid.NewString(),
	}
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Outbound is the channel of deliveries this session should forward to its
// socket.
func (s *Session) Outbound() subscription.Subscriber { return s.out }

// Challenge returns the nonce issued for this session's AUTH frame.
func (s *Session) Challenge() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge
}

// Authenticated reports the session's current authenticated pubkey, or ""
// if the session has not completed NIP-42 authentication.
func (s *Session) Authenticated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// HandleAuth verifies an inbound AUTH event against the issued challenge and,
// on success, (re)authenticates the session under the event's pubkey. A
// session may re-authenticate under a different key at any time; the new
// key simply replaces the old one.
func (s *Session) HandleAuth(e *types.Event) error {
	if e.Kind != KindAuth {
		return fmt.Errorf("%w: auth event must be kind %d", relayerr.ErrInvalidFrame, KindAuth)
	}
	if !nostrcore.ValidatePubKey(e.PubKey) {
		return fmt.Errorf("%w: invalid auth pubkey", relayerr.ErrInvalidFrame)
	}
	now := time.Now()
	created := time.Unix(e.CreatedAt, 0)
	if created.Before(now.Add(-authWindow)) || created.After(now.Add(authWindow)) {
		return relayerr.ErrTimestampOutOfWindow
	}

	s.mu.Lock()
	want := s.challenge
	s.mu.Unlock()
	if e.TagValue("challenge") != want {
		return fmt.Errorf("%w: auth challenge mismatch", relayerr.ErrInvalidFrame)
	}

	ok, err := nostrcore.VerifyID(e)
	if err != nil || !ok {
		return relayerr.ErrIdentifierMismatch
	}
	ok, err = nostrcore.VerifySignature(e)
	if err != nil || !ok {
		return relayerr.ErrSignatureFailure
	}

	s.mu.Lock()
	s.state = types.AuthStateAuthenticated
	s.authed = e.PubKey
	s.mu.Unlock()

	log.WithSession(s.id).Info().Str("pubkey", e.PubKey).Msg("session authenticated")
	return nil
}

// HandleEvent runs an inbound EVENT through the extension chain, commits
// whatever the chain decides should be stored, deletes anything consumed,
// and publishes newly committed events for fanout. It returns the OK
// acceptance flag and human-readable reason for the ["OK", id, ok, reason]
// reply.
func (s *Session) HandleEvent(e *types.Event) (accepted bool, reason string) {
	outcome := s.chain.Run(e, s.Authenticated())
	if outcome.Rejected {
		return false, fmt.Sprintf("%s: %s", outcome.RejectedBy, outcome.Reason)
	}

	for _, stored := range outcome.Store {
		status, err := s.store.Put(stored)
		if err != nil {
			log.WithEventID(stored.ID).Warn().Err(err).Msg("event store rejected event")
			return false, err.Error()
		}
		if status == eventstore.PutCommitted {
			s.subs.Publish(stored)
		}
	}
	for _, id := range outcome.Consume {
		if err := s.store.Delete(id); err != nil {
			log.WithEventID(id).Warn().Err(err).Msg("failed to delete consumed event")
		}
	}
	return true, ""
}

// HandleReq admits a REQ: the extension chain gets first refusal, then
// falls back to a direct Event Store query. Only a REQ answered by the
// Event Store arms a subscription for future fanout; a REQ intercepted by
// the chain is answered once and not armed.
func (s *Session) HandleReq(subID string, filters []*types.Filter) (events []*types.Event, eose bool, err error) {
	if s.subs.SubscriptionCount(s.id) >= s.maxSubscriptions {
		return nil, false, relayerr.ErrLimitExceeded
	}

	events, intercepted, err := s.chain.RunReq(filters, s.Authenticated())
	if err != nil {
		return nil, false, err
	}
	if intercepted {
		return events, true, nil
	}

	matched, err := s.store.Query(filters, 0)
	if err != nil {
		return nil, false, err
	}
	s.subs.AddSubscription(s.id, subID, filters)
	return matched, true, nil
}

// HandleClose deregisters a named subscription (CLOSE).
func (s *Session) HandleClose(subID string) {
	s.subs.RemoveSubscription(s.id, subID)
}

// Close tears the session down, dropping every subscription it owns.
func (s *Session) Close() {
	s.subs.Unregister(s.id)
	log.WithSession(s.id).Info().Msg("session closed")
}
