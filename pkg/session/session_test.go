package session

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cuemby/mls-relay/pkg/eventstore"
	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/nostrcore"
	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/subscription"
	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHarness(t *testing.T) (*Session, eventstore.Store, *subscription.Registry) {
	t.Helper()
	store, err := eventstore.NewBoltStore(t.TempDir(), eventstore.Window{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	subs := subscription.NewRegistry()
	subs.Start()
	t.Cleanup(subs.Stop)

	s := New(store, extension.NewChain(), subs, 20)
	return s, store, subs
}

func authEventFor(t *testing.T, challenge string, priv *btcec.PrivateKey) *types.Event {
	t.Helper()
	e := &types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      KindAuth,
		Tags:      [][]string{{"challenge", challenge}},
	}
	require.NoError(t, nostrcore.SignEvent(e, priv))
	return e
}

func TestSessionStartsChallengeIssued(t *testing.T) {
	s, _, _ := newTestHarness(t)
	assert.Empty(t, s.Authenticated())
	assert.NotEmpty(t, s.Challenge())
}

func TestHandleAuthTransitionsToAuthenticated(t *testing.T) {
	s, _, _ := newTestHarness(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	e := authEventFor(t, s.Challenge(), priv)
	require.NoError(t, s.HandleAuth(e))
	assert.Equal(t, e.PubKey, s.Authenticated())
}

func TestHandleAuthRejectsChallengeMismatch(t *testing.T) {
	s, _, _ := newTestHarness(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	e := authEventFor(t, "wrong-challenge", priv)
	err = s.HandleAuth(e)
	require.Error(t, err)
	assert.Empty(t, s.Authenticated())
}

func TestHandleAuthRejectsWrongKind(t *testing.T) {
	s, _, _ := newTestHarness(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	e := authEventFor(t, s.Challenge(), priv)
	e.Kind = 1
	require.ErrorIs(t, s.HandleAuth(e), relayerr.ErrInvalidFrame)
}

func TestHandleAuthCanReauthenticateUnderNewKey(t *testing.T) {
	s, _, _ := newTestHarness(t)
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.NoError(t, s.HandleAuth(authEventFor(t, s.Challenge(), priv1)))
	first := s.Authenticated()

	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.NoError(t, s.HandleAuth(authEventFor(t, s.Challenge(), priv2)))
	assert.NotEqual(t, first, s.Authenticated())
}

func TestHandleEventCommitsAndPublishes(t *testing.T) {
	s, store, _ := newTestHarness(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	e := &types.Event{CreatedAt: time.Now().Unix(), Kind: 1, Content: "hello", Tags: [][]string{}}
	require.NoError(t, nostrcore.SignEvent(e, priv))

	accepted, reason := s.HandleEvent(e)
	assert.True(t, accepted)
	assert.Empty(t, reason)

	got, err := store.Get(e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Content, got.Content)
}

type rejectEverythingHook struct{}

func (rejectEverythingHook) Name() string { return "reject-everything" }
func (rejectEverythingHook) HandleEvent(e *types.Event, sessionPubkey string) extension.Result {
	return extension.Reject("policy forbids this kind")
}

func TestHandleEventReturnsRejectReasonFromChain(t *testing.T) {
	store, err := eventstore.NewBoltStore(t.TempDir(), eventstore.Window{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	subs := subscription.NewRegistry()
	subs.Start()
	t.Cleanup(subs.Stop)

	s := New(store, extension.NewChain(rejectEverythingHook{}), subs, 20)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	e := &types.Event{CreatedAt: time.Now().Unix(), Kind: 1, Tags: [][]string{}}
	require.NoError(t, nostrcore.SignEvent(e, priv))

	accepted, reason := s.HandleEvent(e)
	assert.False(t, accepted)
	assert.Contains(t, reason, "policy forbids this kind")

	got, err := store.Get(e.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHandleReqQueriesStoreAndArmsSubscription(t *testing.T) {
	s, store, subs := newTestHarness(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	e := &types.Event{CreatedAt: time.Now().Unix(), Kind: 1, Content: "findme", Tags: [][]string{}}
	require.NoError(t, nostrcore.SignEvent(e, priv))
	_, err = store.Put(e)
	require.NoError(t, err)

	events, eose, err := s.HandleReq("sub-1", []*types.Filter{{Kinds: []int{1}}})
	require.NoError(t, err)
	assert.True(t, eose)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, subs.SubscriptionCount(s.id))
}

func TestHandleReqRejectsOverSubscriptionCap(t *testing.T) {
	store, err := eventstore.NewBoltStore(t.TempDir(), eventstore.Window{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	subs := subscription.NewRegistry()
	subs.Start()
	t.Cleanup(subs.Stop)

	s := New(store, extension.NewChain(), subs, 1)
	_, _, err = s.HandleReq("sub-1", []*types.Filter{{Kinds: []int{1}}})
	require.NoError(t, err)

	_, _, err = s.HandleReq("sub-2", []*types.Filter{{Kinds: []int{1}}})
	require.ErrorIs(t, err, relayerr.ErrLimitExceeded)
}

func TestHandleCloseRemovesSubscription(t *testing.T) {
	s, _, subs := newTestHarness(t)
	_, _, err := s.HandleReq("sub-1", []*types.Filter{{Kinds: []int{1}}})
	require.NoError(t, err)
	require.Equal(t, 1, subs.SubscriptionCount(s.id))

	s.HandleClose("sub-1")
	assert.Equal(t, 0, subs.SubscriptionCount(s.id))
}

func TestCloseUnregistersSession(t *testing.T) {
	s, _, subs := newTestHarness(t)
	before := subs.SessionCount()
	s.Close()
	assert.Equal(t, before-1, subs.SessionCount())
}
