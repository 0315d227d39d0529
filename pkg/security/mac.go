package security

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// CanonicalMACInput builds the length-prefixed byte encoding used as the
// MAC pre-image for the rotation profile: be32(len) || utf8(value) for
// each of clientScopeID, versionID, and secret in turn. No Unicode
// normalization is applied.
func CanonicalMACInput(clientScopeID, versionID, secret string) []byte {
	var buf []byte
	for _, s := range []string{clientScopeID, versionID, secret} {
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(s)))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, s...)
	}
	return buf
}

// MACSigner is the external KMS contract for computing a MAC over the
// rotation profile's canonical input. Implementations must return the
// output as base64url-without-padding.
type MACSigner interface {
	Sign(ctx context.Context, keyRef string, input []byte) (string, error)
}

// MACVerifier is the external KMS contract used by the verification
// plane to check a presented secret against a stored MAC output.
type MACVerifier interface {
	Verify(ctx context.Context, keyRef string, input []byte, mac string) (bool, error)
}

// DecodeMAC validates that mac is canonical base64url-without-padding
// and returns its decoded bytes.
func DecodeMAC(mac string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(mac)
	if err != nil {
		return nil, fmt.Errorf("non-canonical MAC encoding: %w", err)
	}
	return b, nil
}
