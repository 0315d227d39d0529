package subscription

import (
	"testing"
	"time"

	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDeliversMatchingEvents(t *testing.T) {
	r := NewRegistry()
	r.Start()
	defer r.Stop()

	ch := r.Register("sess-1")
	r.AddSubscription("sess-1", "sub-a", []*types.Filter{{Kinds: []int{1}}})

	r.Publish(&types.Event{ID: "e1", Kind: 1})
	r.Publish(&types.Event{ID: "e2", Kind: 2})

	select {
	case d := <-ch:
		assert.Equal(t, "sub-a", d.SubID)
		assert.Equal(t, "e1", d.Event.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a delivery")
	}

	select {
	case d := <-ch:
		t.Fatalf("unexpected second delivery: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryReplaceOnSameSubID(t *testing.T) {
	r := NewRegistry()
	r.Start()
	defer r.Stop()

	ch := r.Register("sess-1")
	r.AddSubscription("sess-1", "sub-a", []*types.Filter{{Kinds: []int{1}}})
	r.AddSubscription("sess-1", "sub-a", []*types.Filter{{Kinds: []int{2}}})

	assert.Equal(t, 1, r.SubscriptionCount("sess-1"))

	r.Publish(&types.Event{ID: "e1", Kind: 1})
	r.Publish(&types.Event{ID: "e2", Kind: 2})

	select {
	case d := <-ch:
		assert.Equal(t, "e2", d.Event.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a delivery for the replaced filter")
	}
}

func TestRegistryRemoveSubscription(t *testing.T) {
	r := NewRegistry()
	r.Start()
	defer r.Stop()

	r.Register("sess-1")
	r.AddSubscription("sess-1", "sub-a", []*types.Filter{{Kinds: []int{1}}})
	require.Equal(t, 1, r.SubscriptionCount("sess-1"))

	r.RemoveSubscription("sess-1", "sub-a")
	assert.Equal(t, 0, r.SubscriptionCount("sess-1"))
}

func TestRegistryUnregisterClosesChannel(t *testing.T) {
	r := NewRegistry()
	r.Start()
	defer r.Stop()

	ch := r.Register("sess-1")
	r.Unregister("sess-1")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, r.SessionCount())
}

func TestRegistryMultipleSessionsIndependentFanout(t *testing.T) {
	r := NewRegistry()
	r.Start()
	defer r.Stop()

	chA := r.Register("sess-a")
	chB := r.Register("sess-b")
	r.AddSubscription("sess-a", "sub-1", []*types.Filter{{Kinds: []int{1}}})
	r.AddSubscription("sess-b", "sub-1", []*types.Filter{{Kinds: []int{2}}})

	r.Publish(&types.Event{ID: "e1", Kind: 1})

	select {
	case d := <-chA:
		assert.Equal(t, "e1", d.Event.ID)
	case <-time.After(time.Second):
		t.Fatal("expected sess-a to receive the kind-1 event")
	}

	select {
	case d := <-chB:
		t.Fatalf("sess-b should not have received a delivery: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}
