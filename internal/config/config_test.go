package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/squadx-live/notify-server/internal/vapid"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadEnv(t *testing.T) {
	cfg, err := Load("", env(map[string]string{
		"NEXT_PUBLIC_VAPID_PUBLIC_KEY": "pub-next",
		"VAPID_PUBLIC_KEY":             "pub-legacy",
		"VAPID_PRIVATE_KEY":            "priv",
		"VAPID_CONTACT":                "mailto:ops@example.com",
		"ADMIN_KEY":                    "secret",
		"PORT":                         "9090",
		"SUBSCRIBE_RATE":               "0.5",
		"PUSH_CONCURRENCY":             "4",
	}))
	require.NoError(t, err)
	assert.Equal(t, "pub-next", cfg.VAPIDPublicKey)
	assert.Equal(t, "priv", cfg.VAPIDPrivateKey)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0.5, cfg.SubscribeRate)
	assert.Equal(t, 4, cfg.PushConcurrency)
	assert.Equal(t, "./data/notify.db", cfg.DBPath)
}

func TestLoadLegacyPublicKeyName(t *testing.T) {
	cfg, err := Load("", env(map[string]string{"VAPID_PUBLIC_KEY": "pub-legacy"}))
	require.NoError(t, err)
	assert.Equal(t, "pub-legacy", cfg.VAPIDPublicKey)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin_key: from-file\nport: \"7000\"\nwelcome_message: hi\n"), 0o600))

	cfg, err := Load(path, env(map[string]string{"PORT": "7001"}))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AdminKey)
	assert.Equal(t, "7001", cfg.Port)
	assert.Equal(t, "hi", cfg.WelcomeMessage)
	assert.Equal(t, "*", cfg.CORSOrigin)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.Error(t, err)

	_, err = Load("", env(map[string]string{"PUSH_TTL": "day", "SUBSCRIBE_RATE": "fast"}))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestValidate(t *testing.T) {
	pub, priv, err := vapid.GenerateKeys()
	require.NoError(t, err)

	cfg := Defaults()
	cfg.VAPIDPublicKey = pub
	cfg.VAPIDPrivateKey = priv
	cfg.VAPIDContact = "mailto:ops@example.com"
	cfg.AdminKey = "secret"
	assert.NoError(t, cfg.Validate())

	empty := Defaults()
	errs := multierr.Errors(empty.Validate())
	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], ErrMissingKeys)

	for _, v := range []string{"NaN", "+Inf", "0", "-1"} {
		loaded, err := Load("", env(map[string]string{"SUBSCRIBE_RATE": v}))
		require.NoError(t, err, v)
		withRate := cfg
		withRate.SubscribeRate = loaded.SubscribeRate
		assert.ErrorContains(t, withRate.Validate(), "subscribe rate", v)
	}

	_, otherPriv, err := vapid.GenerateKeys()
	require.NoError(t, err)
	mixed := cfg
	mixed.VAPIDPrivateKey = otherPriv
	assert.ErrorIs(t, mixed.Validate(), vapid.ErrMismatchedKeys)
}
