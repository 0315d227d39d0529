package mlsgateway

import (
	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/metrics"
	"github.com/cuemby/mls-relay/pkg/types"
)

// handleKeyPackageRequest ingests a kind-447 event. This kind is treated as
// an advisory signal only — real-time, per-requester subscription
// interception (see consumption.go) is the authoritative delivery
// mechanism, so the request itself requires no auxiliary-store write, only
// a counter against the target owner it names in its "p" tag.
func (g *Gateway) handleKeyPackageRequest(e *types.Event) extension.Result {
	target := e.TagValue("p")
	if target == "" {
		target = "unknown"
	}
	metrics.KeyPackageRequestsTotal.WithLabelValues(target).Inc()
	return extension.Continue()
}
