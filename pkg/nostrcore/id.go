// Package nostrcore computes Nostr event identifiers and verifies
// schnorr signatures over them.
package nostrcore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/mls-relay/pkg/types"
)

// ComputeID returns the hex-encoded SHA-256 of the event's canonical
// serialization: [0, pubkey_lowercase_hex, created_at, kind, tags, content].
func ComputeID(e *types.Event) (string, error) {
	pubkey := strings.ToLower(e.PubKey)

	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}

	arr := []interface{}{0, pubkey, e.CreatedAt, e.Kind, tags, e.Content}
	data, err := json.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("canonical serialize: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyID reports whether the event's stored ID matches its canonical
// serialization.
func VerifyID(e *types.Event) (bool, error) {
	id, err := ComputeID(e)
	if err != nil {
		return false, err
	}
	return id == e.ID, nil
}
