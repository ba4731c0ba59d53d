package main

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/squadx-live/notify-server/internal/vapid"
)

// generateVAPIDCmd prints a fresh key pair for the .env file
var generateVAPIDCmd = &cobra.Command{
	Use:   "generate-vapid",
	Short: "Generate a VAPID key pair",
	Long: `Generate a fresh P-256 key pair for Web Push (VAPID) and print it in
.env form. Nothing is written to disk; copy the two lines into the
deployment's environment.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := vapid.Provision(cmd.OutOrStdout(), rand.Reader); err != nil {
			return fmt.Errorf("failed to generate VAPID keys: %w", err)
		}
		return nil
	},
}

var checkAudience string

// checkVAPIDCmd validates the configured key pair
var checkVAPIDCmd = &cobra.Command{
	Use:   "check-vapid",
	Short: "Validate the configured VAPID key pair",
	Long: `Decode the configured VAPID keys, check that the private key derives
the public key, and sign and verify a VAPID token with them. Prints the
Authorization header a push request to --audience would carry.`,
	Args: cobra.NoArgs,
	RunE: runCheckVAPID,
}

func init() {
	checkVAPIDCmd.Flags().StringVar(&checkAudience, "audience", "https://fcm.googleapis.com", "push service origin used for the test token")
}

func runCheckVAPID(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return fmt.Errorf("%s and %s must be set", vapid.PublicKeyEnv, vapid.PrivateKeyEnv)
	}
	if u, err := url.Parse(checkAudience); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("audience must be an origin such as https://push.example.com, got %q", checkAudience)
	}

	subject := cfg.VAPIDContact
	if subject == "" {
		subject = "mailto:admin@example.com"
	}
	if err := vapid.VerifyPair(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, checkAudience, subject); err != nil {
		return fmt.Errorf("VAPID keys are not usable: %w", err)
	}

	header, err := vapid.AuthorizationHeader(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, checkAudience, subject, time.Now().Add(12*time.Hour))
	if err != nil {
		return err
	}

	logger.Debug("vapid pair verified", zap.String("audience", checkAudience), zap.String("subject", subject))
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "VAPID keys OK")
	fmt.Fprintf(out, "%s=%s\n", vapid.PublicKeyEnv, cfg.VAPIDPublicKey)
	fmt.Fprintf(out, "Authorization: %s\n", header)
	return nil
}
