package security

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

// These errors name the bearer-verification failure modes a caller
// needs to distinguish from transport or parsing errors.
var (
	ErrTokenExpired     = fmt.Errorf("bearer token expired")
	ErrTokenNotYetValid = fmt.Errorf("bearer token not yet valid")
	ErrAudienceMismatch = fmt.Errorf("bearer token audience mismatch")
	ErrUnknownKeyID     = fmt.Errorf("bearer token key id not present in JWKS")
)

// jwk is a single entry of a JSON Web Key Set, restricted to the fields
// this package needs to build an RSA or EC public key.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

// publicKey materializes the key entry's crypto.PublicKey, supporting
// RSA ("RSA") and P-256/P-384/P-521 EC ("EC") key types. Any other kty
// is rejected so the cache never silently trusts an unrecognized key.
func (k jwk) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode RSA modulus: %w", err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode RSA exponent: %w", err)
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: e,
		}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported EC curve: %s", k.Crv)
		}
		xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("decode EC x coordinate: %w", err)
		}
		yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("decode EC y coordinate: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(xBytes),
			Y:     new(big.Int).SetBytes(yBytes),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", k.Kty)
	}
}

// JWKSCache fetches and caches a remote JSON Web Key Set, refreshing it
// on a fixed interval or on first use of an unknown key id. It exposes a
// jwt.Keyfunc so callers can drive github.com/golang-jwt/jwt/v5 directly.
type JWKSCache struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration

	mu      sync.RWMutex
	keys    map[string]any // kid -> *rsa.PublicKey | *ecdsa.PublicKey
	fetched time.Time
}

// NewJWKSCache builds a cache pointed at url. ttl controls how long a
// fetched key set is trusted before a refresh is attempted; a ttl of
// zero falls back to five minutes.
func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWKSCache{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ttl:        ttl,
		keys:       make(map[string]any),
	}
}

// Refresh fetches the key set unconditionally and replaces the cache.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build JWKS request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch JWKS: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read JWKS body: %w", err)
	}
	var doc jwksDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, k := range doc.Keys {
		pub, err := k.publicKey()
		if err != nil {
			continue // skip keys this cache can't materialize (unsupported kty)
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetched = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *JWKSCache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.fetched) > c.ttl
}

func (c *JWKSCache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[kid]
	return k, ok
}

// Keyfunc returns a jwt.Keyfunc bound to this cache: given a token, it
// resolves the token's "kid" header against the cached key set,
// refreshing once on a miss or once the cache has gone stale, matching
// the DecryptToken Keyfunc pattern this package is modeled on.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(tk *jwt.Token) (any, error) {
		switch tk.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
		}

		kid, _ := tk.Header["kid"].(string)
		if key, ok := c.lookup(kid); ok && !c.stale() {
			return key, nil
		}
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		key, ok := c.lookup(kid)
		if !ok {
			return nil, ErrUnknownKeyID
		}
		return key, nil
	}
}

// VerifyBearerToken parses and validates a bearer JWS against cache,
// checking signature, expiry, issued-at/not-before, and that audience
// contains wantAudience. It does not check proof-of-possession or
// admin-group membership; those require context (the 445 event's
// author key, the current admin roster) this package does not hold,
// so callers must check BearerClaims.PubkeyBinding and Subject
// themselves against that context.
func VerifyBearerToken(ctx context.Context, cache *JWKSCache, tokenStr, wantAudience string) (*types.BearerClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, cache.Keyfunc(ctx),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse bearer token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("bearer token failed validation")
	}

	bc := &types.BearerClaims{}
	if sub, ok := claims["sub"].(string); ok {
		bc.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		bc.ExpiresAt = exp.Time
		if exp.Before(time.Now()) {
			return nil, ErrTokenExpired
		}
	}
	if nbf, err := claims.GetNotBefore(); err == nil && nbf != nil {
		if nbf.After(time.Now()) {
			return nil, ErrTokenNotYetValid
		}
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		bc.IssuedAt = iat.Time
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("read audience claim: %w", err)
	}
	if wantAudience != "" && !containsString(aud, wantAudience) {
		return nil, ErrAudienceMismatch
	}
	if len(aud) > 0 {
		bc.Audience = aud[0]
	}
	if amr, ok := claims["amr"].([]any); ok {
		for _, m := range amr {
			if s, ok := m.(string); ok {
				bc.Methods = append(bc.Methods, s)
			}
		}
	}
	if cnf, ok := claims["cnf_pubkey"].(string); ok {
		bc.PubkeyBinding = cnf
	}
	return bc, nil
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
