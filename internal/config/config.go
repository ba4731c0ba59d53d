// Package config loads the notify server settings from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/squadx-live/notify-server/internal/vapid"
)

// Config holds every runtime setting of the server.
type Config struct {
	VAPIDPublicKey  string  `yaml:"vapid_public_key"`
	VAPIDPrivateKey string  `yaml:"vapid_private_key"`
	VAPIDContact    string  `yaml:"vapid_contact"`
	AdminKey        string  `yaml:"admin_key"`
	DBPath          string  `yaml:"db_path"`
	Port            string  `yaml:"port"`
	CORSOrigin      string  `yaml:"cors_origin"`
	WelcomeMessage  string  `yaml:"welcome_message"`
	SubscribeRate   float64 `yaml:"subscribe_rate"`
	PushTTL         int     `yaml:"push_ttl"`
	PushConcurrency int     `yaml:"push_concurrency"`
}

// Defaults returns a Config with every optional field set.
func Defaults() Config {
	return Config{
		DBPath:          "./data/notify.db",
		Port:            "8080",
		CORSOrigin:      "*",
		SubscribeRate:   5,
		PushTTL:         86400,
		PushConcurrency: 10,
	}
}

// Load reads path (if non-empty) and then applies environment overrides
// looked up through getenv. The result is not validated.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var errs error
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&cfg.VAPIDPublicKey, vapid.PublicKeyEnv, "VAPID_PUBLIC_KEY")
	setString(&cfg.VAPIDPrivateKey, vapid.PrivateKeyEnv)
	setString(&cfg.VAPIDContact, "VAPID_CONTACT")
	setString(&cfg.AdminKey, "ADMIN_KEY")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.Port, "PORT")
	setString(&cfg.CORSOrigin, "CORS_ORIGIN")
	setString(&cfg.WelcomeMessage, "WELCOME_MESSAGE")

	if v := getenv("SUBSCRIBE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("SUBSCRIBE_RATE: %w", err))
		}
		cfg.SubscribeRate = f
	}
	for _, e := range []struct {
		key string
		dst *int
	}{
		{"PUSH_TTL", &cfg.PushTTL},
		{"PUSH_CONCURRENCY", &cfg.PushConcurrency},
	} {
		if v := getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", e.key, err))
			}
			*e.dst = n
		}
	}

	if errs != nil {
		return Config{}, errs
	}
	return cfg, nil
}

// ErrMissingKeys hints at the provisioning command when no key pair is set.
var ErrMissingKeys = errors.New(vapid.PublicKeyEnv + " and " + vapid.PrivateKeyEnv +
	" are required. Run 'generate-vapid' to generate a keypair")

// Validate reports every problem with cfg at once.
func (c Config) Validate() error {
	var errs error
	if c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "" {
		errs = multierr.Append(errs, ErrMissingKeys)
	} else if _, err := vapid.ParseKeys(c.VAPIDPublicKey, c.VAPIDPrivateKey); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid VAPID keys: %w", err))
	}
	if c.VAPIDContact == "" {
		errs = multierr.Append(errs, errors.New("VAPID_CONTACT is required (e.g. mailto:admin@example.com)"))
	}
	if c.AdminKey == "" {
		errs = multierr.Append(errs, errors.New("ADMIN_KEY is required"))
	}
	if !(c.SubscribeRate > 0) || math.IsInf(c.SubscribeRate, 0) {
		errs = multierr.Append(errs, fmt.Errorf("subscribe rate must be a positive finite number, got %v", c.SubscribeRate))
	}
	if c.PushConcurrency <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("push concurrency must be positive, got %d", c.PushConcurrency))
	}
	if c.PushTTL < 0 {
		errs = multierr.Append(errs, fmt.Errorf("push TTL must not be negative, got %d", c.PushTTL))
	}
	return errs
}
