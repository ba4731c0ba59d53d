// Package vapid generates and parses the P-256 key pairs used to sign
// Web Push requests (VAPID, RFC 8292).
package vapid

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// PublicKeySize is the length of an uncompressed P-256 point.
	PublicKeySize = 65
	// PrivateKeySize is the length of a P-256 scalar.
	PrivateKeySize = 32

	uncompressedPoint = 0x04

	// The chance that 32 random bytes fall outside [1, n-1] is about 2^-32,
	// so hitting this bound means the entropy source is broken.
	maxScalarDraws = 8
)

var (
	// ErrCryptographicFailure is returned when key generation cannot
	// produce a valid key pair. No key material accompanies it.
	ErrCryptographicFailure = errors.New("vapid: cryptographic failure")
	// ErrInvalidKey is returned when an encoded key cannot be decoded.
	ErrInvalidKey = errors.New("vapid: invalid key")
	// ErrMismatchedKeys is returned when a private key does not derive
	// the public key it was paired with.
	ErrMismatchedKeys = errors.New("vapid: public key does not match private key")
)

var encoding = base64.RawURLEncoding

// GenerateKeys generates a new P-256 key pair from crypto/rand and returns
// the public and private keys as base64url-encoded strings (no padding).
func GenerateKeys() (publicKey, privateKey string, err error) {
	return GenerateKeysFrom(rand.Reader)
}

// GenerateKeysFrom is GenerateKeys with an explicit entropy source.
func GenerateKeysFrom(entropy io.Reader) (publicKey, privateKey string, err error) {
	priv, err := drawKey(entropy)
	if err != nil {
		return "", "", err
	}

	// Public key: uncompressed point (65 bytes: 0x04 || X || Y)
	pubBytes := priv.PublicKey().Bytes()
	if len(pubBytes) != PublicKeySize || pubBytes[0] != uncompressedPoint {
		return "", "", fmt.Errorf("%w: malformed public point", ErrCryptographicFailure)
	}

	// Private key: raw scalar (32 bytes, big-endian, zero-padded)
	privBytes := priv.Bytes()
	if len(privBytes) != PrivateKeySize {
		return "", "", fmt.Errorf("%w: malformed private scalar", ErrCryptographicFailure)
	}

	return encoding.EncodeToString(pubBytes), encoding.EncodeToString(privBytes), nil
}

// drawKey reads candidate scalars until one lies in [1, n-1]. Rejection
// keeps the accepted scalar uniform over the valid range.
func drawKey(entropy io.Reader) (*ecdh.PrivateKey, error) {
	scalar := make([]byte, PrivateKeySize)
	for range maxScalarDraws {
		if _, err := io.ReadFull(entropy, scalar); err != nil {
			return nil, fmt.Errorf("%w: read entropy: %w", ErrCryptographicFailure, err)
		}
		priv, err := ecdh.P256().NewPrivateKey(scalar)
		if err == nil {
			return priv, nil
		}
	}
	return nil, fmt.Errorf("%w: entropy source produced no valid scalar in %d draws", ErrCryptographicFailure, maxScalarDraws)
}

// ParseKeys decodes base64url-encoded VAPID keys and returns the parsed
// ECDSA private key (which includes the public key). The private scalar
// must derive publicKeyB64.
func ParseKeys(publicKeyB64, privateKeyB64 string) (*ecdsa.PrivateKey, error) {
	pub, err := ParsePublicKey(publicKeyB64)
	if err != nil {
		return nil, err
	}

	privBytes, err := decode(privateKeyB64, PrivateKeySize)
	if err != nil {
		return nil, fmt.Errorf("decode VAPID private key: %w", err)
	}
	derived, err := ecdh.P256().NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: private scalar out of range", ErrInvalidKey)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
	if subtle.ConstantTimeCompare(derived.PublicKey().Bytes(), pubBytes) != 1 {
		return nil, ErrMismatchedKeys
	}

	return &ecdsa.PrivateKey{
		PublicKey: *pub,
		D:         new(big.Int).SetBytes(privBytes),
	}, nil
}

// ParsePublicKey decodes a base64url-encoded uncompressed P-256 point.
func ParsePublicKey(publicKeyB64 string) (*ecdsa.PublicKey, error) {
	pubBytes, err := decode(publicKeyB64, PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("decode VAPID public key: %w", err)
	}

	x, y := elliptic.Unmarshal(elliptic.P256(), pubBytes)
	if x == nil {
		return nil, fmt.Errorf("%w: not a valid P-256 point", ErrInvalidKey)
	}

	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

func decode(s string, size int) ([]byte, error) {
	b, err := encoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(b), size)
	}
	return b, nil
}
