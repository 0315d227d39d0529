package relay

import "github.com/cuemby/mls-relay/pkg/relayerr"

// unavailableMLSCodec is the placeholder servicemember.MLSDecrypter/
// MLSEncrypter binding used when no OpenMLS capability is wired in. The
// OpenMLS library itself is an external collaborator this repository
// assumes available rather than implements (spec.md §1); production
// deployments wire a real codec in front of it here. Calling either
// method without one configured fails closed with ErrExternalDependency
// rather than silently no-oping.
type unavailableMLSCodec struct{}

func (unavailableMLSCodec) Decrypt(groupID string, ciphertext []byte) ([]byte, error) {
	return nil, relayerr.ErrExternalDependency
}

func (unavailableMLSCodec) Encrypt(groupID string, plaintext []byte) ([]byte, error) {
	return nil, relayerr.ErrExternalDependency
}
