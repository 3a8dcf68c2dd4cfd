// Package trust signs the gateway's outbound trust tokens and publishes
// the verification keys as a JWKS. Tokens are ES256 JWS; the published
// set carries public key material only.
package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/ineyio/costgate"
)

// DefaultTokenTTL bounds how long a downstream verifier should accept a
// trust token; slightly above the reservation TTL so a slow invocation
// never outlives its token.
const DefaultTokenTTL = 10 * time.Minute

// Signer issues trust tokens for admitted requests.
type Signer struct {
	issuer string
	ttl    time.Duration
	key    jwk.Key
	keys   jwk.Set
}

var _ costgate.TokenSigner = (*Signer)(nil)

// Option configures a Signer.
type Option func(*config)

type config struct {
	ttl  time.Duration
	priv *ecdsa.PrivateKey
}

// WithTokenTTL sets the token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithPrivateKey supplies the signing key instead of generating one.
func WithPrivateKey(priv *ecdsa.PrivateKey) Option {
	return func(c *config) { c.priv = priv }
}

// NewSigner creates a Signer. Without WithPrivateKey a fresh P-256 key is
// generated; multi-instance deployments should supply a shared key.
func NewSigner(issuer string, opts ...Option) (*Signer, error) {
	cfg := config{ttl: DefaultTokenTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	priv := cfg.priv
	if priv == nil {
		var err error
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("costgate/trust: generate key: %w", err)
		}
	}

	key, err := jwk.FromRaw(priv)
	if err != nil {
		return nil, fmt.Errorf("costgate/trust: import key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, uuid.New().String()); err != nil {
		return nil, fmt.Errorf("costgate/trust: set kid: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		return nil, fmt.Errorf("costgate/trust: set alg: %w", err)
	}

	keys := jwk.NewSet()
	if err := keys.AddKey(key); err != nil {
		return nil, fmt.Errorf("costgate/trust: build key set: %w", err)
	}

	return &Signer{
		issuer: issuer,
		ttl:    cfg.ttl,
		key:    key,
		keys:   keys,
	}, nil
}

// Sign issues a JWS over the given claims. Claim names and values are the
// wire contract with the downstream verifier and are passed through
// unmodified.
func (s *Signer) Sign(claims map[string]any) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Issuer(s.issuer).
		IssuedAt(now).
		Expiration(now.Add(s.ttl)).
		JwtID(uuid.New().String())

	for name, value := range claims {
		builder = builder.Claim(name, value)
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("costgate/trust: build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, s.key))
	if err != nil {
		return "", fmt.Errorf("costgate/trust: sign token: %w", err)
	}
	return string(signed), nil
}

// PublicJWKS returns the verification key set with private material
// stripped, even though the signing key should never reach it anyway.
func (s *Signer) PublicJWKS() (jwk.Set, error) {
	pub, err := jwk.PublicSetOf(s.keys)
	if err != nil {
		return nil, fmt.Errorf("costgate/trust: derive public set: %w", err)
	}
	return pub, nil
}

// JWKSJSON renders the public key set for the JWKS endpoint.
func (s *Signer) JWKSJSON() ([]byte, error) {
	pub, err := s.PublicJWKS()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(pub)
	if err != nil {
		return nil, fmt.Errorf("costgate/trust: marshal jwks: %w", err)
	}
	return data, nil
}
