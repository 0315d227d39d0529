package mlsgateway

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/types"
)

// giftWrapInner is the sealed payload carried by a kind-1059 gift-wrap, as
// produced by the sealing side (OpenMLS + the deployment's NIP-59 sealing
// step, both assumed external capabilities). The gateway never attempts to
// unseal a gift-wrap whose declared Kind is not 444; it is not the
// recipient of any other sealed kind.
type giftWrapInner struct {
	Kind           int        `json:"kind"`
	Tags           [][]string `json:"tags"`
	Content        string     `json:"content"` // opaque welcome payload, base64
	RatchetTreeB64 string     `json:"ratchet_tree_b64,omitempty"`
}

// handleGiftWrap ingests a kind-1059 event. Only gift-wraps whose sealed
// inner kind is 444 (Welcome) are of interest to the gateway; anything else
// passes through untouched.
func (g *Gateway) handleGiftWrap(e *types.Event) extension.Result {
	var inner giftWrapInner
	if err := json.Unmarshal([]byte(e.Content), &inner); err != nil {
		// Not a welcome-carrying wrap this gateway understands; leave it to
		// plain relay fanout.
		return extension.Continue()
	}
	if inner.Kind != 444 {
		return extension.Continue()
	}

	recipient := tagValue(inner.Tags, "p")
	groupID := tagValue(inner.Tags, "h")
	if recipient == "" || groupID == "" {
		return extension.Reject(fmt.Sprintf("%v: welcome missing p or h tag", relayerr.ErrEncodingInvalid))
	}

	w := &types.Welcome{
		EventID:        e.ID,
		Recipient:      recipient,
		Sender:         e.PubKey,
		GroupID:        groupID,
		PayloadB64:     inner.Content,
		RatchetTreeB64: inner.RatchetTreeB64,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.CreatedAt + g.cfg.WelcomeTTLSeconds,
	}

	if err := g.aux.PutWelcome(w); err != nil {
		return extension.Reject("storage-io: " + err.Error())
	}

	return extension.Continue()
}

func tagValue(tags [][]string, name string) string {
	for _, t := range tags {
		if len(t) > 1 && t[0] == name {
			return t[1]
		}
	}
	return ""
}
