package nostrcore

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/cuemby/mls-relay/pkg/types"
)

// SignEvent computes e's canonical identifier, signs it with key under
// BIP-340 schnorr, and fills in e.ID, e.PubKey, and e.Sig. Used by the
// in-process service member to emit its own notify events.
func SignEvent(e *types.Event, key *btcec.PrivateKey) error {
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(key.PubKey()))

	id, err := ComputeID(e)
	if err != nil {
		return fmt.Errorf("compute event id: %w", err)
	}
	e.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decode event id: %w", err)
	}

	sig, err := schnorr.Sign(key, idBytes)
	if err != nil {
		return fmt.Errorf("schnorr sign: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// VerifySignature checks the event's 64-byte schnorr signature against its
// 32-byte x-only author public key, over the event identifier.
func VerifySignature(e *types.Event) (bool, error) {
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil || len(idBytes) != 32 {
		return false, fmt.Errorf("malformed event id: %w", err)
	}

	pubKeyBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pubKeyBytes) != 32 {
		return false, fmt.Errorf("malformed pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != 64 {
		return false, fmt.Errorf("malformed signature: %w", err)
	}

	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("parse pubkey: %w", err)
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}

	return sig.Verify(idBytes, pubKey), nil
}

// ValidatePubKey reports whether s decodes to a 32-byte x-only public key
// that parses as a valid curve point.
func ValidatePubKey(s string) bool {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return false
	}
	_, err = schnorr.ParsePubKey(b)
	return err == nil
}
