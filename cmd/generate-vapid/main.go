// Command generate-vapid prints a fresh VAPID key pair for the web app's
// .env file. It takes no arguments and exits non-zero if no key could be
// generated.
package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/squadx-live/notify-server/internal/vapid"
)

func main() {
	os.Exit(run(os.Stdout, os.Stderr, rand.Reader))
}

func run(stdout, stderr io.Writer, entropy io.Reader) int {
	if err := vapid.Provision(stdout, entropy); err != nil {
		fmt.Fprintf(stderr, "failed to generate VAPID keys: %v\n", err)
		return 1
	}
	return 0
}
