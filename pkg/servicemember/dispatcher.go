package servicemember

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cuemby/mls-relay/pkg/auxstore"
	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/security"
)

// MLSDecrypter is the OpenMLS capability this package depends on but does
// not implement: decrypting an MLS application message addressed to the
// service member within groupID.
type MLSDecrypter interface {
	Decrypt(groupID string, ciphertext []byte) (plaintext []byte, err error)
}

// MLSEncrypter is the OpenMLS capability used by the notify phase to
// encrypt a rotation payload to the admin group.
type MLSEncrypter interface {
	Encrypt(groupID string, plaintext []byte) (ciphertext []byte, err error)
}

// Dispatcher is the in-process MLS service member. It satisfies
// mlsgateway.ServiceDispatcher, gating decrypt attempts on its in-memory
// membership state and routing authorized, decrypted requests to profile
// handlers (currently: secret rotation).
type Dispatcher struct {
	gate         *Gate
	aux          auxstore.Store
	cfg          config.ServiceMemberConfig
	decrypter    MLSDecrypter
	encrypter    MLSEncrypter
	macSigner    security.MACSigner
	jwks         *security.JWKSCache
	signingKey   *btcec.PrivateKey
	adminPubkeys []string
}

// New builds a Dispatcher. gate, decrypter, encrypter, macSigner, and jwks
// are required collaborators; adminPubkeys lists the pubkeys authorized to
// request actions (per spec.md's per-client-scope admin group, collapsed
// here to a single deployment-wide admin set — see servicemember's
// DESIGN.md entry for the multi-scope extension point).
func New(gate *Gate, aux auxstore.Store, cfg config.ServiceMemberConfig, decrypter MLSDecrypter, encrypter MLSEncrypter, macSigner security.MACSigner, jwks *security.JWKSCache, signingKey *btcec.PrivateKey, adminPubkeys []string) *Dispatcher {
	return &Dispatcher{
		gate:         gate,
		aux:          aux,
		cfg:          cfg,
		decrypter:    decrypter,
		encrypter:    encrypter,
		macSigner:    macSigner,
		jwks:         jwks,
		signingKey:   signingKey,
		adminPubkeys: adminPubkeys,
	}
}

// HasGroupLoaded implements mlsgateway.ServiceDispatcher.
func (d *Dispatcher) HasGroupLoaded(groupID string) bool {
	return d.gate.HasGroupLoaded(groupID)
}

// Dispatch implements mlsgateway.ServiceDispatcher. The gateway has
// already performed the membership-first gate before calling this; this
// method decrypts the payload, then hands off to DispatchPlaintext. Errors
// are logged by the caller; Dispatch itself never rejects the enclosing
// Nostr event (group messages always pass through to ordinary fanout
// regardless of service-dispatch outcome).
func (d *Dispatcher) Dispatch(groupID, authorPubkey string, ciphertext []byte) error {
	plaintext, err := d.decrypter.Decrypt(groupID, ciphertext)
	if err != nil {
		return fmt.Errorf("mls decrypt: %w", err)
	}
	return d.DispatchPlaintext(groupID, plaintext, authorPubkey)
}

// DispatchPlaintext implements mlsgateway.ServiceDispatcher's dev-fallback
// surface (kind-40910 service-request, spec.md §4.4/§6): payload is
// treated exactly like an already-decrypted kind-445 MLS application
// message, skipping only the decrypt step Dispatch performs. groupID is
// still required: the rotation profile's notify phase encrypts its
// response to it the same way as the MLS-wrapped path.
func (d *Dispatcher) DispatchPlaintext(groupID string, payload []byte, authorPubkey string) error {
	var req ActionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode action request: %w", err)
	}

	ctx := context.Background()
	if err := d.authorize(ctx, &req, authorPubkey); err != nil {
		log.WithActionID(req.ActionID).Warn().Err(err).Msg("service action rejected authorization")
		return err
	}

	switch req.Profile {
	case ProfileSecretRotation:
		return d.dispatchRotation(ctx, groupID, &req, authorPubkey)
	default:
		return fmt.Errorf("unknown service action profile: %s", req.Profile)
	}
}

// dispatchRotation routes a rotation-profile request to the appropriate
// phase by action type: an admin's rotation-prepare request runs Prepare
// then immediately Notifies the admin group with the new secret (spec.md
// §4.4 / Scenario E steps 1-2), while a rotation-ack request records the
// acker and, once quorum is reached, promotes the rotation.
func (d *Dispatcher) dispatchRotation(ctx context.Context, groupID string, req *ActionRequest, authorPubkey string) error {
	switch req.ActionType {
	case ActionTypePrepare:
		action, version, plaintextSecret, err := d.Prepare(ctx, req.ActionID, req.ClientScopeID)
		if err != nil {
			return fmt.Errorf("prepare rotation: %w", err)
		}
		if _, err := d.Notify(ctx, groupID, action, version, plaintextSecret); err != nil {
			return fmt.Errorf("notify rotation: %w", err)
		}
		return nil
	case ActionTypeAck:
		_, err := d.Ack(req.ActionID, authorPubkey)
		return err
	default:
		return fmt.Errorf("unsupported rotation action type for in-band dispatch: %s", req.ActionType)
	}
}
