package vapid

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignToken signs a VAPID JWT for a push service origin. The subject is the
// contact URI (mailto: or https:) of the application server operator.
func SignToken(priv *ecdsa.PrivateKey, audience, subject string, exp time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{audience},
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign VAPID token: %w", err)
	}
	return token, nil
}

// AuthorizationHeader returns the RFC 8292 Authorization header value for a
// request to audience.
func AuthorizationHeader(publicKeyB64, privateKeyB64, audience, subject string, exp time.Time) (string, error) {
	priv, err := ParseKeys(publicKeyB64, privateKeyB64)
	if err != nil {
		return "", err
	}
	token, err := SignToken(priv, audience, subject, exp)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("vapid t=%s, k=%s", token, publicKeyB64), nil
}

// VerifyPair signs a short-lived token with the private key and verifies it
// against the public key decoded on its own, proving the two belong together.
func VerifyPair(publicKeyB64, privateKeyB64, audience, subject string) error {
	priv, err := ParseKeys(publicKeyB64, privateKeyB64)
	if err != nil {
		return err
	}
	pub, err := ParsePublicKey(publicKeyB64)
	if err != nil {
		return err
	}

	signed, err := SignToken(priv, audience, subject, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	_, err = jwt.ParseWithClaims(signed, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMismatchedKeys, err)
	}
	return nil
}
