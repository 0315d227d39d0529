// Package mlsgateway is the policy brain of the relay's MLS extension: it
// owns the per-kind handlers for KeyPackages, Welcomes, group messages,
// direct messages, KeyPackage requests, roster/policy ops, gift-wraps, and
// the kind-40910/40911 dev-fallback service-request/ack surface, plus the
// KeyPackage mailbox's subscription interception.
package mlsgateway

import (
	"github.com/cuemby/mls-relay/pkg/auxstore"
	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/types"
)

const (
	KindKeyPackage        = 443
	KindWelcome           = 444
	KindGroupMessage      = 445
	KindDirectMessage     = 446
	KindKeyPackageRequest = 447
	KindRosterPolicy      = 450
	KindGiftWrap          = 1059
	KindServiceRequest    = 40910
	KindServiceAck        = 40911
)

// Gateway implements extension.Hook and extension.ReqHook, dispatching each
// handled kind to its dedicated handler. It holds shared references to the
// auxiliary store and, optionally, the in-process service dispatcher.
type Gateway struct {
	aux        auxstore.Store
	cfg        config.MLSGatewayConfig
	dispatcher ServiceDispatcher
}

// New builds a Gateway over the given auxiliary store and configuration.
// SetDispatcher may be called afterward to wire the in-process service
// member once it is constructed.
func New(aux auxstore.Store, cfg config.MLSGatewayConfig) *Gateway {
	return &Gateway{aux: aux, cfg: cfg}
}

// SetDispatcher wires the in-process MLS service member used to gate and
// decrypt kind-445 group messages.
func (g *Gateway) SetDispatcher(d ServiceDispatcher) {
	g.dispatcher = d
}

func (g *Gateway) Name() string { return "mls-gateway" }

// HandleEvent dispatches e to its kind-specific handler. Kinds this
// gateway does not own pass through unchanged.
func (g *Gateway) HandleEvent(e *types.Event, sessionPubkey string) extension.Result {
	switch e.Kind {
	case KindKeyPackage:
		return g.handleKeyPackage(e)
	case KindGroupMessage:
		return g.handleGroupMessage(e)
	case KindDirectMessage:
		return g.handleDirectMessage(e)
	case KindKeyPackageRequest:
		return g.handleKeyPackageRequest(e)
	case KindRosterPolicy:
		return g.handleRosterPolicy(e)
	case KindGiftWrap:
		return g.handleGiftWrap(e)
	case KindServiceRequest:
		return g.handleServiceRequest(e)
	case KindServiceAck:
		return g.handleServiceAck(e)
	default:
		return extension.Continue()
	}
}
