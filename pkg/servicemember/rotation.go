package servicemember

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/nostrcore"
	"github.com/cuemby/mls-relay/pkg/security"
	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/oklog/ulid/v2"
)

// ProfileSecretRotation is the first (and so far only) service-action
// profile: versioned secret rotation with HMAC-based hash-only
// persistence and two-phase promotion.
const ProfileSecretRotation = "secret-rotation"

// Action types carried in an ActionRequest's action_type field.
const (
	ActionTypePrepare = "rotation-prepare"
	ActionTypeAck     = "rotation-ack"
)

// notifyPayload is the MLS application message the notify phase encrypts
// and sends to the admin group.
type notifyPayload struct {
	ActionID   string `json:"action_id"`
	VersionID  string `json:"version_id"`
	Secret     string `json:"secret"`
	MACKeyRef  string `json:"mac_key_ref"`
	NotBefore  int64  `json:"not_before"`
	NotAfter   int64  `json:"not_after,omitempty"`
}

// Prepare executes the rotation profile's prepare phase for clientScopeID.
// actionID must be unique per rotation attempt; a prior ServiceAction
// under the same actionID that is not in a resumable state is a conflict.
// The plaintext secret is returned alongside the action and version so the
// caller can immediately drive Notify with it; it is never itself
// persisted, only its MAC (SecretVersion.SecretHash) is.
func (d *Dispatcher) Prepare(ctx context.Context, actionID, clientScopeID string) (*types.ServiceAction, *types.SecretVersion, string, error) {
	existing, err := d.aux.GetServiceAction(actionID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("lookup service action: %w", err)
	}
	if existing != nil && existing.State != types.ServiceActionRequested {
		return nil, nil, "", fmt.Errorf("conflict: action %s already in state %s", actionID, existing.State)
	}

	secret, err := security.GenerateRotationSecret()
	if err != nil {
		return nil, nil, "", fmt.Errorf("generate rotation secret: %w", err)
	}
	versionID := ulid.Make().String()

	input := security.CanonicalMACInput(clientScopeID, versionID, secret)
	mac, err := d.macSigner.Sign(ctx, d.cfg.MACKeyRef, input)
	if err != nil {
		return nil, nil, "", fmt.Errorf("mac sign: %w", err)
	}

	now := time.Now().Unix()
	notBefore := now + int64(d.cfg.MinRotationGap)*60

	version := &types.SecretVersion{
		ClientScopeID: clientScopeID,
		VersionID:     versionID,
		SecretHash:    mac,
		Algorithm:     "hmac-sha256", // matches the external KMS's default MAC algorithm
		MACKeyRef:     d.cfg.MACKeyRef,
		NotBefore:     notBefore,
		State:         types.SecretVersionPending,
	}
	if err := d.aux.PutSecretVersion(version); err != nil {
		return nil, nil, "", fmt.Errorf("put secret version: %w", err)
	}

	action := &types.ServiceAction{
		ActionID:      actionID,
		Profile:       ProfileSecretRotation,
		ClientScopeID: clientScopeID,
		VersionID:     versionID,
		State:         types.ServiceActionPrepared,
		RequiredAcks:  d.ackQuorum(),
		CreatedAt:     now,
		AckDeadline:   now + int64(d.cfg.AckDeadlineMin)*60,
	}
	if err := d.aux.PutServiceAction(action); err != nil {
		return nil, nil, "", fmt.Errorf("put service action: %w", err)
	}

	return action, version, secret, nil
}

func (d *Dispatcher) ackQuorum() int {
	if d.cfg.AckQuorum <= 0 {
		return 1
	}
	return d.cfg.AckQuorum
}

// Notify executes the rotation profile's notify phase: it composes the
// MLS application message carrying the plaintext secret, encrypts it to
// groupID, signs the resulting kind-445 event with the service member's
// dedicated key, and records the event identifier on the ServiceAction.
func (d *Dispatcher) Notify(ctx context.Context, groupID string, action *types.ServiceAction, version *types.SecretVersion, plaintextSecret string) (*types.Event, error) {
	payload := notifyPayload{
		ActionID:  action.ActionID,
		VersionID: version.VersionID,
		Secret:    plaintextSecret,
		MACKeyRef: version.MACKeyRef,
		NotBefore: version.NotBefore,
		NotAfter:  version.NotAfter,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal notify payload: %w", err)
	}

	ciphertext, err := d.encrypter.Encrypt(groupID, body)
	if err != nil {
		return nil, fmt.Errorf("mls encrypt: %w", err)
	}

	e := &types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      445,
		Tags:      [][]string{{"h", groupID}},
		Content:   string(ciphertext),
	}
	if err := nostrcore.SignEvent(e, d.signingKey); err != nil {
		return nil, fmt.Errorf("sign notify event: %w", err)
	}

	action.NotifyMessageID = e.ID
	action.State = types.ServiceActionNotified
	if err := d.aux.PutServiceAction(action); err != nil {
		return nil, fmt.Errorf("put service action: %w", err)
	}

	return e, nil
}

// Ack records an acknowledgment from ackerPubkey against actionID,
// deduplicating repeat acks from the same key, and promotes the rotation
// once the action's quorum is reached within its ack deadline. Returns
// true if this call caused the promotion to occur.
func (d *Dispatcher) Ack(actionID, ackerPubkey string) (bool, error) {
	action, err := d.aux.GetServiceAction(actionID)
	if err != nil {
		return false, fmt.Errorf("lookup service action: %w", err)
	}
	if action == nil {
		return false, fmt.Errorf("unknown service action: %s", actionID)
	}
	if action.State != types.ServiceActionNotified {
		// Already completed, expired, or canceled: idempotent no-op.
		return false, nil
	}

	now := time.Now().Unix()
	if action.AckDeadline > 0 && now > action.AckDeadline {
		action.State = types.ServiceActionExpired
		action.Outcome = "ack deadline exceeded"
		return false, d.aux.PutServiceAction(action)
	}

	for _, a := range action.Ackers {
		if a == ackerPubkey {
			return false, nil // duplicate ack, already counted
		}
	}
	action.Ackers = append(action.Ackers, ackerPubkey)
	action.AckCount++

	if action.AckCount < action.RequiredAcks {
		return false, d.aux.PutServiceAction(action)
	}

	return true, d.promote(action)
}

// promote flips the client scope's current/previous SecretVersion
// pointers in a single auxiliary-store transaction and marks the
// ServiceAction completed. The prior version's grace not_after is anchored
// to the new version's not_before, not to the promotion time: the grace
// window is how long the old secret remains valid once the new one takes
// effect, not from the moment quorum was reached.
func (d *Dispatcher) promote(action *types.ServiceAction) error {
	version, err := d.aux.GetSecretVersion(action.ClientScopeID, action.VersionID)
	if err != nil {
		return fmt.Errorf("lookup secret version: %w", err)
	}
	if version == nil {
		return fmt.Errorf("unknown secret version: %s/%s", action.ClientScopeID, action.VersionID)
	}

	graceNotAfter := version.NotBefore + int64(d.cfg.GraceDays)*86400
	if err := d.aux.PromoteSecretVersion(action.ClientScopeID, action.VersionID, graceNotAfter); err != nil {
		return fmt.Errorf("promote secret version: %w", err)
	}
	action.State = types.ServiceActionCompleted
	action.Outcome = "promoted"
	if err := d.aux.PutServiceAction(action); err != nil {
		return fmt.Errorf("put service action: %w", err)
	}
	log.WithActionID(action.ActionID).Info().Str("client_scope_id", action.ClientScopeID).Msg("rotation promoted")
	return nil
}

// ExpireOverdueAcks transitions any service action whose ack deadline has
// passed without reaching quorum to state=expired. Intended to be driven
// by the scheduler alongside its other recurring sweeps.
func (d *Dispatcher) ExpireOverdueAcks(actionIDs []string, now int64) error {
	for _, id := range actionIDs {
		action, err := d.aux.GetServiceAction(id)
		if err != nil {
			return fmt.Errorf("lookup service action %s: %w", id, err)
		}
		if action == nil || action.State != types.ServiceActionNotified {
			continue
		}
		if action.AckDeadline == 0 || now <= action.AckDeadline {
			continue
		}
		action.State = types.ServiceActionExpired
		action.Outcome = "ack deadline exceeded"
		if err := d.aux.PutServiceAction(action); err != nil {
			return fmt.Errorf("expire service action %s: %w", id, err)
		}
	}
	return nil
}
