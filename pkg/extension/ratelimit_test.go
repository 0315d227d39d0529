package extension

import (
	"testing"

	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitHookAllowsWithinLimit(t *testing.T) {
	h := NewRateLimitHook([]config.RateLimitBucket{{Period: 60, Limit: 2, Kinds: []int{1}}})
	e := &types.Event{PubKey: "author-1", Kind: 1}

	assert.Equal(t, VerdictContinue, h.HandleEvent(e, "").Verdict)
	assert.Equal(t, VerdictContinue, h.HandleEvent(e, "").Verdict)
}

func TestRateLimitHookRejectsOverLimit(t *testing.T) {
	h := NewRateLimitHook([]config.RateLimitBucket{{Period: 60, Limit: 2, Kinds: []int{1}}})
	e := &types.Event{PubKey: "author-1", Kind: 1}

	h.HandleEvent(e, "")
	h.HandleEvent(e, "")
	r := h.HandleEvent(e, "")
	assert.Equal(t, VerdictReject, r.Verdict)
}

func TestRateLimitHookIgnoresUncoveredKind(t *testing.T) {
	h := NewRateLimitHook([]config.RateLimitBucket{{Period: 60, Limit: 1, Kinds: []int{443}}})
	e := &types.Event{PubKey: "author-1", Kind: 1}

	assert.Equal(t, VerdictContinue, h.HandleEvent(e, "").Verdict)
	assert.Equal(t, VerdictContinue, h.HandleEvent(e, "").Verdict)
}

func TestRateLimitHookTracksBucketsIndependentlyPerAuthor(t *testing.T) {
	h := NewRateLimitHook([]config.RateLimitBucket{{Period: 60, Limit: 1, Kinds: []int{1}}})
	a := &types.Event{PubKey: "author-a", Kind: 1}
	b := &types.Event{PubKey: "author-b", Kind: 1}

	assert.Equal(t, VerdictContinue, h.HandleEvent(a, "").Verdict)
	assert.Equal(t, VerdictContinue, h.HandleEvent(b, "").Verdict)
	assert.Equal(t, VerdictReject, h.HandleEvent(a, "").Verdict)
}
