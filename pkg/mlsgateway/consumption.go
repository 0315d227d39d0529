package mlsgateway

import (
	"sort"
	"time"

	"github.com/cuemby/mls-relay/pkg/types"
)

const (
	rateLimitWindowSeconds = 3600
	rateLimitMaxQueries    = 10
	rateLimitTarget        = "keypackage-mailbox"
)

// HandleReq implements extension.ReqHook: it intercepts any REQ whose
// filters request kind 443, answering from the KeyPackage mailbox instead
// of the primary event store, with consume-on-delivery, last-resort
// protection, and per-(requester,target) rate limiting.
func (g *Gateway) HandleReq(filters []*types.Filter, requesterPubkey string) ([]*types.Event, bool, error) {
	var kp443Filters []*types.Filter
	for _, f := range filters {
		if containsInt(f.Kinds, 443) {
			kp443Filters = append(kp443Filters, f)
		}
	}
	if len(kp443Filters) == 0 {
		return nil, false, nil
	}

	now := time.Now().Unix()
	var delivered []*types.Event

	for _, f := range kp443Filters {
		wantBase64 := wantsBase64Delivery(f)
		for _, owner := range f.Authors {
			events, err := g.deliverKeyPackagesFor(requesterPubkey, owner, f.Limit, now, wantBase64)
			if err != nil {
				continue
			}
			delivered = append(delivered, events...)
		}
	}

	sort.Slice(delivered, func(i, j int) bool {
		if delivered[i].CreatedAt != delivered[j].CreatedAt {
			return delivered[i].CreatedAt > delivered[j].CreatedAt
		}
		return delivered[i].ID < delivered[j].ID
	})

	return delivered, true, nil
}

// deliverKeyPackagesFor implements the per-owner consume-on-delivery
// contract: rate-limit, fetch up to the configured cap oldest-first,
// deliver, then delete every delivered record except when doing so would
// drop the owner below one remaining record.
func (g *Gateway) deliverKeyPackagesFor(requester, owner string, requestedLimit int, now int64, wantBase64 bool) ([]*types.Event, error) {
	allowed, err := g.aux.AllowRequest(requester, owner+":"+rateLimitTarget, now, rateLimitWindowSeconds, rateLimitMaxQueries)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}

	all, err := g.aux.ListKeyPackagesByOwner(owner)
	if err != nil {
		return nil, err
	}
	valid := make([]*types.KeyPackage, 0, len(all))
	for _, kp := range all {
		if kp.ExpiresAt == 0 || kp.ExpiresAt > now {
			valid = append(valid, kp)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	maxPerAuthor := g.cfg.MaxKeyPackagesPerQuery
	if maxPerAuthor <= 0 || maxPerAuthor > 2 {
		maxPerAuthor = 2
	}
	fetchCount := maxPerAuthor
	if requestedLimit > 0 && requestedLimit < fetchCount {
		fetchCount = requestedLimit
	}
	if fetchCount > len(valid) {
		fetchCount = len(valid)
	}

	toDeliver := valid[:fetchCount]
	remaining := len(valid)

	events := make([]*types.Event, 0, len(toDeliver))
	for _, kp := range toDeliver {
		ev, err := reconstructKeyPackageEvent(kp, wantBase64)
		if err != nil {
			continue
		}
		events = append(events, ev)

		if remaining-1 >= 1 {
			if delErr := g.aux.DeleteKeyPackage(kp.EventID); delErr == nil {
				remaining--
			}
		}
		// else: last-resort protection — preserved, not deleted.
	}

	return events, nil
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
