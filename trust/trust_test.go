package trust_test

import (
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/costgate/trust"
)

func TestSignAndVerifyWithPublishedKeys(t *testing.T) {
	signer, err := trust.NewSigner("costgate-test")
	require.NoError(t, err)

	signed, err := signer.Sign(map[string]any{
		"tenant_id": "t1",
		"strategy":  "consensus",
		"n":         3,
		"quorum":    2,
	})
	require.NoError(t, err)

	// Verify the way a downstream would: against the published JWKS.
	keys, err := signer.PublicJWKS()
	require.NoError(t, err)

	token, err := jwt.Parse([]byte(signed), jwt.WithKeySet(keys))
	require.NoError(t, err)

	assert.Equal(t, "costgate-test", token.Issuer())
	assert.NotEmpty(t, token.JwtID())
	assert.True(t, token.Expiration().After(time.Now()))

	tenant, ok := token.Get("tenant_id")
	require.True(t, ok)
	assert.Equal(t, "t1", tenant)

	strategy, ok := token.Get("strategy")
	require.True(t, ok)
	assert.Equal(t, "consensus", strategy)

	// JSON numbers come back as float64.
	n, ok := token.Get("n")
	require.True(t, ok)
	assert.Equal(t, float64(3), n)
}

func TestSign_TamperedTokenRejected(t *testing.T) {
	signer, err := trust.NewSigner("costgate-test")
	require.NoError(t, err)

	signed, err := signer.Sign(map[string]any{"tenant_id": "t1"})
	require.NoError(t, err)

	keys, err := signer.PublicJWKS()
	require.NoError(t, err)

	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + ".eyJ0ZW5hbnRfaWQiOiJ0MiJ9." + parts[2]

	_, err = jwt.Parse([]byte(tampered), jwt.WithKeySet(keys))
	assert.Error(t, err)
}

func TestSign_OtherSignersKeysRejected(t *testing.T) {
	signer, err := trust.NewSigner("costgate-test")
	require.NoError(t, err)
	other, err := trust.NewSigner("costgate-test")
	require.NoError(t, err)

	signed, err := signer.Sign(map[string]any{"tenant_id": "t1"})
	require.NoError(t, err)

	keys, err := other.PublicJWKS()
	require.NoError(t, err)

	_, err = jwt.Parse([]byte(signed), jwt.WithKeySet(keys))
	assert.Error(t, err)
}

func TestJWKSJSON_CarriesNoPrivateMaterial(t *testing.T) {
	signer, err := trust.NewSigner("costgate-test")
	require.NoError(t, err)

	data, err := signer.JWKSJSON()
	require.NoError(t, err)

	body := string(data)
	assert.Contains(t, body, `"kty":"EC"`)
	assert.Contains(t, body, `"kid"`)
	assert.NotContains(t, body, `"d"`, "the ECDSA private scalar must never be published")
}

func TestSign_TokenTTLApplied(t *testing.T) {
	signer, err := trust.NewSigner("costgate-test", trust.WithTokenTTL(time.Minute))
	require.NoError(t, err)

	signed, err := signer.Sign(nil)
	require.NoError(t, err)

	keys, err := signer.PublicJWKS()
	require.NoError(t, err)
	token, err := jwt.Parse([]byte(signed), jwt.WithKeySet(keys))
	require.NoError(t, err)

	lifetime := token.Expiration().Sub(token.IssuedAt())
	assert.Equal(t, time.Minute, lifetime)
}
