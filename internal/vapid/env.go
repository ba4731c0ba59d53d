package vapid

import (
	"bytes"
	"fmt"
	"io"
)

// Environment variable names the web app reads the key pair from.
const (
	PublicKeyEnv  = "NEXT_PUBLIC_VAPID_PUBLIC_KEY"
	PrivateKeyEnv = "VAPID_PRIVATE_KEY"
)

// WriteEnv writes the operator instructions and both keys to w in a single
// write, so a failed render never leaves half a pair on the terminal.
func WriteEnv(w io.Writer, publicKey, privateKey string) error {
	if publicKey == "" || privateKey == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	var buf bytes.Buffer
	buf.WriteString("VAPID Keys Generated\n\n")
	buf.WriteString("Add these to your .env file:\n\n")
	fmt.Fprintf(&buf, "%s=%s\n", PublicKeyEnv, publicKey)
	fmt.Fprintf(&buf, "%s=%s\n", PrivateKeyEnv, privateKey)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write keys: %w", err)
	}
	return nil
}

// Provision generates a fresh key pair and writes it with WriteEnv.
// Nothing is written when generation fails.
func Provision(w io.Writer, entropy io.Reader) error {
	pub, priv, err := GenerateKeysFrom(entropy)
	if err != nil {
		return err
	}
	return WriteEnv(w, pub, priv)
}
