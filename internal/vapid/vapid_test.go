package vapid

import (
	"bytes"
	"crypto/elliptic"
	"errors"
	"io"
	"regexp"
	"testing"
	"testing/iotest"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var base64URL = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// constReader returns the same byte forever.
type constReader byte

func (c constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(c)
	}
	return len(p), nil
}

func TestGenerateKeysEncoding(t *testing.T) {
	pub, priv, err := GenerateKeys()
	require.NoError(t, err)

	for _, k := range []string{pub, priv} {
		assert.NotEmpty(t, k)
		assert.Regexp(t, base64URL, k)
		assert.NotContains(t, k, "=")
	}

	pubBytes, err := encoding.DecodeString(pub)
	require.NoError(t, err)
	require.Len(t, pubBytes, PublicKeySize)
	assert.Equal(t, byte(0x04), pubBytes[0])

	privBytes, err := encoding.DecodeString(priv)
	require.NoError(t, err)
	assert.Len(t, privBytes, PrivateKeySize)
}

func TestGeneratedPublicKeyDerivesFromScalar(t *testing.T) {
	pub, priv, err := GenerateKeys()
	require.NoError(t, err)

	privBytes, err := encoding.DecodeString(priv)
	require.NoError(t, err)

	x, y := elliptic.P256().ScalarBaseMult(privBytes)
	want := elliptic.Marshal(elliptic.P256(), x, y)
	assert.Equal(t, encoding.EncodeToString(want), pub)
}

func TestGenerateKeysUnique(t *testing.T) {
	seen := make(map[string]bool, 2000)
	for range 1000 {
		pub, priv, err := GenerateKeys()
		require.NoError(t, err)
		require.False(t, seen[pub], "duplicate public key %s", pub)
		require.False(t, seen[priv], "duplicate private key %s", priv)
		seen[pub] = true
		seen[priv] = true
	}
}

func TestGenerateKeysFromIsDeterministicForFixedEntropy(t *testing.T) {
	seed := bytes.Repeat([]byte{0x2a}, PrivateKeySize)

	pub1, priv1, err := GenerateKeysFrom(bytes.NewReader(seed))
	require.NoError(t, err)
	pub2, priv2, err := GenerateKeysFrom(bytes.NewReader(seed))
	require.NoError(t, err)

	assert.Equal(t, pub1, pub2)
	assert.Equal(t, priv1, priv2)
	assert.Equal(t, encoding.EncodeToString(seed), priv1)
}

func TestGenerateKeysFromRejectsOutOfRangeScalar(t *testing.T) {
	// The first draw (all 0xff) exceeds the curve order and is discarded.
	entropy := bytes.NewReader(append(
		bytes.Repeat([]byte{0xff}, PrivateKeySize),
		bytes.Repeat([]byte{0x01}, PrivateKeySize)...,
	))

	_, priv, err := GenerateKeysFrom(entropy)
	require.NoError(t, err)
	assert.Equal(t, encoding.EncodeToString(bytes.Repeat([]byte{0x01}, PrivateKeySize)), priv)
}

func TestGenerateKeysFromFailures(t *testing.T) {
	tests := []struct {
		name    string
		entropy io.Reader
	}{
		{name: "entropy error", entropy: iotest.ErrReader(errors.New("entropy unavailable"))},
		{name: "short read", entropy: bytes.NewReader([]byte{1, 2, 3})},
		{name: "zero scalar", entropy: constReader(0x00)},
		{name: "scalar above order", entropy: constReader(0xff)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub, priv, err := GenerateKeysFrom(tc.entropy)
			require.ErrorIs(t, err, ErrCryptographicFailure)
			assert.Empty(t, pub)
			assert.Empty(t, priv)
		})
	}
}

func TestGenerateAndParseKeys(t *testing.T) {
	pub, priv, err := GenerateKeys()
	require.NoError(t, err)

	key, err := ParseKeys(pub, priv)
	require.NoError(t, err)
	require.NotNil(t, key.PublicKey.X)
	require.NotNil(t, key.PublicKey.Y)
	assert.True(t, key.PublicKey.Curve.IsOnCurve(key.PublicKey.X, key.PublicKey.Y))
}

func TestParseKeysFromWebpushGenerator(t *testing.T) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	_, err = ParseKeys(pub, priv)
	assert.NoError(t, err)
}

func TestParseKeysRejectsMixedPairs(t *testing.T) {
	pubA, _, err := GenerateKeys()
	require.NoError(t, err)
	_, privB, err := GenerateKeys()
	require.NoError(t, err)

	_, err = ParseKeys(pubA, privB)
	assert.ErrorIs(t, err, ErrMismatchedKeys)
}

func TestParseKeysInvalid(t *testing.T) {
	pub, priv, err := GenerateKeys()
	require.NoError(t, err)

	offCurve := make([]byte, PublicKeySize)
	offCurve[0] = 0x04
	offCurve[1] = 0x01

	tests := []struct {
		name      string
		pub, priv string
	}{
		{name: "padded public key", pub: pub + "=", priv: priv},
		{name: "standard alphabet", pub: "+/" + pub[2:], priv: priv},
		{name: "short public key", pub: pub[:20], priv: priv},
		{name: "point off curve", pub: encoding.EncodeToString(offCurve), priv: priv},
		{name: "short private key", pub: pub, priv: priv[:10]},
		{name: "zero scalar", pub: pub, priv: encoding.EncodeToString(make([]byte, PrivateKeySize))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseKeys(tc.pub, tc.priv)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}
