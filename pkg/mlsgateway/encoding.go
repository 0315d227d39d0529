package mlsgateway

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/types"
)

// placeholderSig is returned in place of a real signature on KeyPackages
// reconstructed from the auxiliary mailbox, since the mailbox retains only
// the payload, not the original signature bytes. Its length (128 hex chars,
// 64 bytes) matches a real schnorr signature's wire length.
const placeholderSig = "00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"

// decodeKeyPackageContent normalizes a kind-443 event's content to base64
// (standard alphabet, padded) for storage, following the ["encoding","base64"]
// tag convention: tagged content is already base64; untagged content is
// hex and must be transcoded.
func decodeKeyPackageContent(e *types.Event) (string, error) {
	if e.TagValue("encoding") == "base64" {
		if _, err := base64.StdEncoding.DecodeString(e.Content); err != nil {
			return "", fmt.Errorf("%w: invalid base64 content", relayerr.ErrEncodingInvalid)
		}
		return e.Content, nil
	}

	raw, err := hex.DecodeString(e.Content)
	if err != nil {
		return "", fmt.Errorf("%w: content is neither tagged base64 nor valid hex", relayerr.ErrEncodingInvalid)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// encodeForDelivery re-expresses a canonical base64 payload as either
// base64 (when the requester's filter carries #f=["base64"]) or hex
// (the default, for backward compatibility), alongside the tags a
// reconstructed synthetic event should carry.
func encodeForDelivery(payloadB64 string, wantBase64 bool) (content string, tags [][]string, err error) {
	if wantBase64 {
		return payloadB64, [][]string{{"encoding", "base64"}}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", nil, fmt.Errorf("%w: stored payload is not valid base64", relayerr.ErrEncodingInvalid)
	}
	return hex.EncodeToString(raw), [][]string{}, nil
}

// wantsBase64Delivery inspects a REQ filter's #f tag for the base64 opt-in.
func wantsBase64Delivery(f *types.Filter) bool {
	if f == nil {
		return false
	}
	for _, v := range f.Tags["f"] {
		if strings.EqualFold(v, "base64") {
			return true
		}
	}
	return false
}

// reconstructKeyPackageEvent builds a synthetic kind-443 event from a
// mailbox record for delivery over a subscription. The identifier, owner,
// and timestamp are preserved from ingest; the signature is a placeholder
// since the original signature bytes are not retained.
func reconstructKeyPackageEvent(kp *types.KeyPackage, wantBase64 bool) (*types.Event, error) {
	content, tags, err := encodeForDelivery(kp.PayloadB64, wantBase64)
	if err != nil {
		return nil, err
	}
	return &types.Event{
		ID:        kp.EventID,
		PubKey:    kp.Owner,
		CreatedAt: kp.CreatedAt,
		Kind:      443,
		Tags:      tags,
		Content:   content,
		Sig:       placeholderSig,
	}, nil
}
