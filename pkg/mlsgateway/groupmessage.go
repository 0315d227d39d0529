package mlsgateway

import (
	"strconv"

	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/types"
)

// ServiceDispatcher is the in-process MLS service member's decrypt/dispatch
// surface. The gateway consults HasGroupLoaded only to ask whether a group
// is loaded (the authoritative membership gate); it never mutates the
// dispatcher's in-memory MLS state itself. DispatchPlaintext and Ack back
// the kind-40910/40911 dev-fallback surface (spec.md §4.4, §6), which lets
// a service-request or ack reach the dispatcher without an MLS-wrapped
// kind-445 envelope.
type ServiceDispatcher interface {
	HasGroupLoaded(groupID string) bool
	Dispatch(groupID, authorPubkey string, ciphertext []byte) error
	DispatchPlaintext(groupID string, payload []byte, authorPubkey string) error
	Ack(actionID, ackerPubkey string) (bool, error)
}

// handleGroupMessage ingests a kind-445 event: it upserts the group
// registry, archives the event for offline catch-up, and — only when the
// service member has the group loaded — attempts a decrypt/dispatch pass.
func (g *Gateway) handleGroupMessage(e *types.Event) extension.Result {
	groupID := e.TagValue("h")
	if groupID == "" {
		return extension.Reject("encoding-invalid: group message missing h tag")
	}

	grp, err := g.aux.GetGroup(groupID)
	if err != nil {
		return extension.Reject("storage-io: " + err.Error())
	}
	if grp == nil {
		grp = &types.Group{ID: groupID, Owner: e.PubKey}
	}
	if epochStr := e.TagValue("k"); epochStr != "" {
		if epoch, err := strconv.ParseInt(epochStr, 10, 64); err == nil {
			grp.Epoch = epoch
		}
	}
	grp.LastEventAt = e.CreatedAt
	if err := g.aux.UpsertGroup(grp); err != nil {
		return extension.Reject("storage-io: " + err.Error())
	}

	if err := g.aux.ArchiveMessage(&types.ArchivedMessage{
		EventID:    e.ID,
		GroupID:    groupID,
		Recipients: e.TagValues("p"),
		CreatedAt:  e.CreatedAt,
	}); err != nil {
		log.WithEventID(e.ID).Error().Err(err).Msg("archive group message failed")
	}

	if g.dispatcher == nil || !g.cfg.EnableInProcessDecrypt {
		return extension.Continue()
	}

	// Membership-first gate: never attempt decrypt for a group the service
	// member has not loaded, regardless of any registry hint.
	if !g.dispatcher.HasGroupLoaded(groupID) {
		return extension.Continue()
	}

	if err := g.dispatcher.Dispatch(groupID, e.PubKey, []byte(e.Content)); err != nil {
		log.WithEventID(e.ID).Error().Err(err).Msg("service dispatch failed")
	}

	return extension.Continue()
}
