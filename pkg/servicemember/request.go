package servicemember

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/mls-relay/pkg/security"
)

// ActionRequest is the JSON schema carried inside a decrypted kind-445
// group-message payload addressed to the service member.
type ActionRequest struct {
	ActionType    string `json:"action_type"`
	ActionID      string `json:"action_id"`
	ClientScopeID string `json:"client_scope_id"`
	Profile       string `json:"profile"`
	Params        json.RawMessage `json:"params,omitempty"`
	BearerToken   string `json:"bearer_token"`
}

const (
	requiredAuthMethodAttestation = "device-attestation"
	requiredAuthMethodSecondFactor = "second-factor"
)

// authorize implements spec.md's three-part authorization contract for an
// action request:
//
//	(a) the bearer JWS verifies against the cached JWKS (audience,
//	    expiry/issued-at/not-before, declared auth methods);
//	(b) the bearer's proof-of-possession binds it to authorPubkey, the
//	    author of the enclosing 445 event;
//	(c) authorPubkey is a member of the admin group for the request's
//	    client scope.
func (d *Dispatcher) authorize(ctx context.Context, req *ActionRequest, authorPubkey string) error {
	claims, err := security.VerifyBearerToken(ctx, d.jwks, req.BearerToken, d.cfg.BearerAudience)
	if err != nil {
		return fmt.Errorf("bearer verification failed: %w", err)
	}

	if !hasMethod(claims.Methods, requiredAuthMethodAttestation) || !hasMethod(claims.Methods, requiredAuthMethodSecondFactor) {
		return fmt.Errorf("bearer token missing required authentication methods")
	}

	if claims.PubkeyBinding == "" || claims.PubkeyBinding != authorPubkey {
		return fmt.Errorf("bearer token is not bound to the message author")
	}

	if !d.isAdmin(authorPubkey) {
		return fmt.Errorf("author %s is not an admin for client scope %s", authorPubkey, req.ClientScopeID)
	}

	return nil
}

func hasMethod(methods []string, want string) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

func (d *Dispatcher) isAdmin(pubkey string) bool {
	for _, p := range d.adminPubkeys {
		if p == pubkey {
			return true
		}
	}
	return false
}
