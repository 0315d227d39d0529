package mlsgateway

import (
	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/types"
)

// handleDirectMessage ingests a kind-446 event. Direct messages carry no
// auxiliary state; they rely entirely on standard relay fanout keyed by the
// recipient's p-tag, handled by the subscription registry.
func (g *Gateway) handleDirectMessage(e *types.Event) extension.Result {
	return extension.Continue()
}
