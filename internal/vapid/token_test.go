package vapid

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAudience = "https://push.example.com"
	testSubject  = "mailto:ops@example.com"
)

func TestVerifyPair(t *testing.T) {
	pub, priv, err := GenerateKeys()
	require.NoError(t, err)

	assert.NoError(t, VerifyPair(pub, priv, testAudience, testSubject))
}

func TestVerifyPairMixed(t *testing.T) {
	pubA, _, err := GenerateKeys()
	require.NoError(t, err)
	_, privB, err := GenerateKeys()
	require.NoError(t, err)

	assert.ErrorIs(t, VerifyPair(pubA, privB, testAudience, testSubject), ErrMismatchedKeys)
}

func TestAuthorizationHeader(t *testing.T) {
	pub, priv, err := GenerateKeys()
	require.NoError(t, err)
	exp := time.Now().Add(12 * time.Hour).Truncate(time.Second)

	header, err := AuthorizationHeader(pub, priv, testAudience, testSubject, exp)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(header, "vapid t="))
	require.True(t, strings.HasSuffix(header, ", k="+pub))

	signed := strings.TrimSuffix(strings.TrimPrefix(header, "vapid t="), ", k="+pub)
	publicKey, err := ParsePublicKey(pub)
	require.NoError(t, err)

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) { return publicKey, nil })
	require.NoError(t, err)
	assert.Equal(t, testSubject, claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{testAudience}, claims.Audience)
	assert.True(t, claims.ExpiresAt.Time.Equal(exp))
}
