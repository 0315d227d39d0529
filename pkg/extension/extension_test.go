package extension

import (
	"testing"

	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/stretchr/testify/assert"
)

type fakeHook struct {
	name   string
	result Result
}

func (f *fakeHook) Name() string { return f.name }
func (f *fakeHook) HandleEvent(e *types.Event, sessionPubkey string) Result { return f.result }

// countingHook records how many times the chain invoked it.
type countingHook struct {
	fakeHook
	calls int
}

func (c *countingHook) HandleEvent(e *types.Event, sessionPubkey string) Result {
	c.calls++
	return c.result
}

func TestChainContinueLeavesEventUnchanged(t *testing.T) {
	c := NewChain(&fakeHook{name: "noop", result: Continue()})
	e := &types.Event{ID: "e1"}

	out := c.Run(e, "pub1")

	assert.False(t, out.Rejected)
	assert.Len(t, out.Store, 1)
	assert.Same(t, e, out.Store[0])
}

func TestChainRejectStopsEvaluation(t *testing.T) {
	second := &countingHook{fakeHook: fakeHook{name: "never-runs", result: Continue()}}
	c := NewChain(
		&fakeHook{name: "rejector", result: Reject("not authorized")},
		second,
	)

	out := c.Run(&types.Event{ID: "e1"}, "pub1")

	assert.True(t, out.Rejected)
	assert.Equal(t, "not authorized", out.Reason)
	assert.Equal(t, "rejector", out.RejectedBy)
	assert.Equal(t, 0, second.calls)
}

func TestChainReplaceSubstitutesStoredEvents(t *testing.T) {
	replacement := &types.Event{ID: "e2"}
	c := NewChain(&fakeHook{name: "rewriter", result: Replace(replacement)})

	out := c.Run(&types.Event{ID: "e1"}, "pub1")

	require := assert.New(t)
	require.False(out.Rejected)
	require.Len(out.Store, 1)
	require.Equal("e2", out.Store[0].ID)
}

func TestChainAddAppendsExtraEvents(t *testing.T) {
	extra := &types.Event{ID: "extra1"}
	c := NewChain(&fakeHook{name: "fanout", result: Add(extra)})

	e := &types.Event{ID: "e1"}
	out := c.Run(e, "pub1")

	assert.Len(t, out.Store, 2)
	assert.Equal(t, "e1", out.Store[0].ID)
	assert.Equal(t, "extra1", out.Store[1].ID)
}

type fakeReqHook struct {
	name        string
	events      []*types.Event
	intercepted bool
	err         error
}

func (f *fakeReqHook) Name() string { return f.name }
func (f *fakeReqHook) HandleReq(filters []*types.Filter, requesterPubkey string) ([]*types.Event, bool, error) {
	return f.events, f.intercepted, f.err
}

func TestChainRunReqStopsAtFirstInterceptor(t *testing.T) {
	c := NewChain().WithReqHooks(
		&fakeReqHook{name: "pass-through"},
		&fakeReqHook{name: "intercepts", events: []*types.Event{{ID: "kp1"}}, intercepted: true},
		&fakeReqHook{name: "never-runs", intercepted: true},
	)

	events, intercepted, err := c.RunReq([]*types.Filter{{Kinds: []int{443}}}, "requester1")

	assert.NoError(t, err)
	assert.True(t, intercepted)
	assert.Len(t, events, 1)
	assert.Equal(t, "kp1", events[0].ID)
}

func TestChainRunReqNoInterceptorFallsThrough(t *testing.T) {
	c := NewChain().WithReqHooks(&fakeReqHook{name: "pass-through"})

	events, intercepted, err := c.RunReq([]*types.Filter{{Kinds: []int{1}}}, "requester1")

	assert.NoError(t, err)
	assert.False(t, intercepted)
	assert.Nil(t, events)
}

func TestChainConsumeAccumulatesAcrossHooks(t *testing.T) {
	c := NewChain(
		&fakeHook{name: "a", result: Consume("x1")},
		&fakeHook{name: "b", result: Consume("x2", "x3")},
	)

	out := c.Run(&types.Event{ID: "e1"}, "pub1")

	assert.ElementsMatch(t, []string{"x1", "x2", "x3"}, out.Consume)
}
