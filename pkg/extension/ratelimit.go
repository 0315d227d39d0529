package extension

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/metrics"
	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/types"
)

// bucketState is one author's fixed-window counter for one configured
// rate-limit bucket: the number of events counted since windowStart.
type bucketState struct {
	windowStart time.Time
	count       int
}

// RateLimitHook enforces config.RateLimiterConfig's per-kind publish
// buckets: each bucket names a period, a limit, and the kinds it covers;
// an author publishing more than limit events of a covered kind within
// period is rejected until the window rolls over.
type RateLimitHook struct {
	buckets []config.RateLimitBucket

	mu    sync.Mutex
	state map[string]map[int]*bucketState // author -> bucket index -> state
}

// NewRateLimitHook builds a hook from the configured buckets.
func NewRateLimitHook(buckets []config.RateLimitBucket) *RateLimitHook {
	return &RateLimitHook{
		buckets: buckets,
		state:   make(map[string]map[int]*bucketState),
	}
}

func (h *RateLimitHook) Name() string { return "rate-limit" }

// HandleEvent increments every bucket covering e.Kind and rejects if any
// of them is over its limit for the publishing author.
func (h *RateLimitHook) HandleEvent(e *types.Event, sessionPubkey string) Result {
	author := e.PubKey
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, b := range h.buckets {
		if !coversKind(b.Kinds, e.Kind) {
			continue
		}
		perAuthor, ok := h.state[author]
		if !ok {
			perAuthor = make(map[int]*bucketState)
			h.state[author] = perAuthor
		}
		st, ok := perAuthor[i]
		period := time.Duration(b.Period) * time.Second
		if !ok || now.Sub(st.windowStart) >= period {
			st = &bucketState{windowStart: now}
			perAuthor[i] = st
		}
		st.count++
		if st.count > b.Limit {
			metrics.RateLimitDeniedTotal.WithLabelValues(bucketLabel(b)).Inc()
			return Reject(relayerr.ErrRateLimited.Error())
		}
	}
	return Continue()
}

func coversKind(kinds []int, kind int) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func bucketLabel(b config.RateLimitBucket) string {
	if len(b.Kinds) == 0 {
		return "all"
	}
	parts := make([]string, len(b.Kinds))
	for i, k := range b.Kinds {
		parts[i] = strconv.Itoa(k)
	}
	return strings.Join(parts, ",")
}
