package mlsgateway

import (
	"fmt"

	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/types"
)

// handleServiceRequest ingests a kind-40910 event: the dev-fallback
// surface for submitting a service-request without wrapping it in an
// MLS-encrypted kind-445 group message. The event's "h" tag names the
// admin group the rotation profile's notify phase still encrypts its
// response into; the event's content is the same action-request JSON
// that would otherwise be the plaintext of a decrypted 445.
func (g *Gateway) handleServiceRequest(e *types.Event) extension.Result {
	if g.dispatcher == nil {
		return extension.Continue()
	}
	groupID := e.TagValue("h")
	if groupID == "" {
		return extension.Reject(fmt.Sprintf("%v: service-request missing h tag", relayerr.ErrEncodingInvalid))
	}
	if err := g.dispatcher.DispatchPlaintext(groupID, []byte(e.Content), e.PubKey); err != nil {
		log.WithEventID(e.ID).Error().Err(err).Msg("service request dispatch failed")
	}
	return extension.Continue()
}

// handleServiceAck ingests a kind-40911 event: the dev-fallback surface
// for acknowledging a rotation without an MLS-wrapped kind-445 message,
// per spec.md §4.4 ("signed kind-40911 events tagged by action
// identifier"). The action identifier is carried in the event's "d" tag;
// the content is unused.
func (g *Gateway) handleServiceAck(e *types.Event) extension.Result {
	if g.dispatcher == nil {
		return extension.Continue()
	}
	actionID := e.TagValue("d")
	if actionID == "" {
		return extension.Reject(fmt.Sprintf("%v: service-ack missing d tag", relayerr.ErrEncodingInvalid))
	}
	if _, err := g.dispatcher.Ack(actionID, e.PubKey); err != nil {
		log.WithEventID(e.ID).Error().Err(err).Msg("service ack dispatch failed")
	}
	return extension.Continue()
}
