/*
Package security provides the relay's cryptographic and authorization
primitives: at-rest secret encryption, the rotation profile's MAC
signer contract, and bearer-JWS verification against a cached JWKS.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Surface                         │
	└─────┬───────────────────────┬──────────────────┬────────────┘
	      │                       │                  │
	      ▼                       ▼                  ▼
	┌─────────────┐      ┌────────────────┐   ┌──────────────┐
	│   Secrets   │      │   MAC Signer   │   │     JWKS      │
	│ Encryption  │      │  (external)    │   │  Verifier     │
	└─────┬───────┘      └────────┬───────┘   └──────┬───────┘
	      │                       │                   │
	      ▼                       ▼                   ▼
	  AES-256-GCM           MAC-sign/verify      cached key set,
	  at-rest wrapping      over canonical       audience/expiry/
	  of local key          byte encoding        attestation checks
	  material

# Deployment Encryption Key

Locally-stored secret material (the service member's dedicated signing
key file) is wrapped at rest with a SecretsManager derived from the
deployment ID via NewSecretsManagerFromPassword:

	deploymentKey = SHA-256(deploymentID)  // 32 bytes for AES-256

The derived key lives only in the relay process's memory and is never
itself persisted; only the AES-256-GCM envelope it produces is written
to disk.

# Rotation secrets

GenerateRotationSecret produces the 32-byte CSPRNG secret used by the
rotation profile's prepare phase (spec §4.4). Per that profile's
invariant, the plaintext secret is never persisted by this package or
any caller; only its MAC-signed hash travels to the auxiliary store.

# MAC signing

The MAC signer is an external dependency (an HSM- or KMS-backed
service); this package only defines the Go-side contract
(MACSigner/MACVerifier) and the canonical length-prefixed byte
encoding the signer operates over (CanonicalMACInput), matching the
wire format fixed by spec.md §6.

# Bearer verification

VerifyBearerToken parses and validates a short-lived JWS against a
JWKSCache, checking audience and expiry/issued-at/not-before, and
returns the declared authentication-method claims for the caller to
check, per spec.md §4.4's authorization contract.
*/
package security
