package servicemember

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cuemby/mls-relay/pkg/auxstore"
	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/security"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// fakeMACSigner returns a deterministic MAC so tests can assert on it
// without a real external KMS.
type fakeMACSigner struct{}

func (fakeMACSigner) Sign(_ context.Context, _ string, input []byte) (string, error) {
	return base64.RawURLEncoding.EncodeToString(input[:4]), nil
}

// fakeMLSCodec stands in for the OpenMLS capability: it round-trips
// plaintext through a no-op "encryption" so dispatcher tests can exercise
// Notify/Dispatch without a real MLS stack.
type fakeMLSCodec struct{}

func (fakeMLSCodec) Encrypt(_ string, plaintext []byte) ([]byte, error) { return plaintext, nil }
func (fakeMLSCodec) Decrypt(_ string, ciphertext []byte) ([]byte, error) { return ciphertext, nil }

func newTestAux(t *testing.T) auxstore.Store {
	t.Helper()
	store, err := auxstore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testJWKS spins up an httptest-backed JWKS server and returns a cache
// pointed at it plus the RSA key used to sign test bearer tokens.
func testJWKS(t *testing.T) (*security.JWKSCache, *rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const kid = "test-key"

	doc := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   "AQAB",
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)

	return security.NewJWKSCache(srv.URL, time.Minute), key, kid
}

func signBearer(t *testing.T, key *rsa.PrivateKey, kid, audience, subjectPubkey string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":         "admin-operator",
		"aud":         audience,
		"exp":         time.Now().Add(time.Hour).Unix(),
		"iat":         time.Now().Unix(),
		"amr":         []string{requiredAuthMethodAttestation, requiredAuthMethodSecondFactor},
		"cnf_pubkey":  subjectPubkey,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newTestDispatcher(t *testing.T, adminPubkeys []string) (*Dispatcher, *rsa.PrivateKey, string) {
	t.Helper()
	aux := newTestAux(t)
	jwks, key, kid := testJWKS(t)
	signingKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	cfg := config.Default().ServiceMember
	d := New(NewGate(), aux, cfg, fakeMLSCodec{}, fakeMLSCodec{}, fakeMACSigner{}, jwks, signingKey, adminPubkeys)
	return d, key, kid
}

func TestDispatchRunsRotationAckToPromotion(t *testing.T) {
	const authorPubkey = "admin-pubkey-1"
	const groupID = "admin-group-1"
	d, key, kid := newTestDispatcher(t, []string{authorPubkey})

	action, version, _, err := d.Prepare(context.Background(), "action-1", "client-scope-1")
	require.NoError(t, err)
	_, err = d.Notify(context.Background(), groupID, action, version, "plaintext-secret")
	require.NoError(t, err)

	bearer := signBearer(t, key, kid, d.cfg.BearerAudience, authorPubkey)
	req := ActionRequest{
		ActionType:    ActionTypeAck,
		ActionID:      action.ActionID,
		ClientScopeID: "client-scope-1",
		Profile:       ProfileSecretRotation,
		BearerToken:   bearer,
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(groupID, authorPubkey, body))

	stored, err := d.aux.GetServiceAction("action-1")
	require.NoError(t, err)
	require.Equal(t, "completed", string(stored.State))
}

func TestDispatchRunsRotationPrepareThenNotify(t *testing.T) {
	const authorPubkey = "admin-pubkey-1"
	const groupID = "admin-group-1"
	d, key, kid := newTestDispatcher(t, []string{authorPubkey})

	bearer := signBearer(t, key, kid, d.cfg.BearerAudience, authorPubkey)
	req := ActionRequest{
		ActionType:    ActionTypePrepare,
		ActionID:      "action-prepare-1",
		ClientScopeID: "client-scope-1",
		Profile:       ProfileSecretRotation,
		BearerToken:   bearer,
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(groupID, authorPubkey, body))

	stored, err := d.aux.GetServiceAction("action-prepare-1")
	require.NoError(t, err)
	require.Equal(t, "notified", string(stored.State))
	require.NotEmpty(t, stored.NotifyMessageID)

	version, err := d.aux.GetSecretVersion("client-scope-1", stored.VersionID)
	require.NoError(t, err)
	require.NotNil(t, version)
}

func TestDispatchRejectsAuthorNotInAdminSet(t *testing.T) {
	const groupID = "admin-group-1"
	d, key, kid := newTestDispatcher(t, []string{"some-other-admin"})

	action, version, _, err := d.Prepare(context.Background(), "action-2", "client-scope-1")
	require.NoError(t, err)
	_, err = d.Notify(context.Background(), groupID, action, version, "plaintext-secret")
	require.NoError(t, err)

	bearer := signBearer(t, key, kid, d.cfg.BearerAudience, "unauthorized-pubkey")
	req := ActionRequest{
		ActionType:    ActionTypeAck,
		ActionID:      action.ActionID,
		ClientScopeID: "client-scope-1",
		Profile:       ProfileSecretRotation,
		BearerToken:   bearer,
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	require.Error(t, d.Dispatch(groupID, "unauthorized-pubkey", body))
}

func TestDispatchRejectsProofOfPossessionMismatch(t *testing.T) {
	const groupID = "admin-group-1"
	d, key, kid := newTestDispatcher(t, []string{"admin-pubkey-1"})

	action, version, _, err := d.Prepare(context.Background(), "action-3", "client-scope-1")
	require.NoError(t, err)
	_, err = d.Notify(context.Background(), groupID, action, version, "plaintext-secret")
	require.NoError(t, err)

	// bearer bound to a different pubkey than the event author.
	bearer := signBearer(t, key, kid, d.cfg.BearerAudience, "someone-else")
	req := ActionRequest{
		ActionType:    ActionTypeAck,
		ActionID:      action.ActionID,
		ClientScopeID: "client-scope-1",
		Profile:       ProfileSecretRotation,
		BearerToken:   bearer,
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	require.Error(t, d.Dispatch(groupID, "admin-pubkey-1", body))
}
