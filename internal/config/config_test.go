package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := LoadServer(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected ttl %s", cfg.TokenTTL)
	}
	if cfg.Issuer != defaultIssuer || cfg.Audience != defaultAudience {
		t.Fatalf("unexpected issuer/audience %q/%q", cfg.Issuer, cfg.Audience)
	}
}

func TestLoadServerRequiresSigningSecret(t *testing.T) {
	_, err := LoadServer(NewViper())
	if err == nil || !strings.Contains(err.Error(), "auth.signing_secret") {
		t.Fatalf("expected signing secret error, got %v", err)
	}
}

func TestLoadServerReadsEnvironment(t *testing.T) {
	t.Setenv("FEEDSYNC_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("FEEDSYNC_TOKEN_TTL_MINUTES", "5")

	cfg, err := LoadServer(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SigningSecret != "from-env" {
		t.Fatalf("unexpected secret %q", cfg.SigningSecret)
	}
	if cfg.TokenTTL != 5*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.TokenTTL)
	}
}

func TestLoadClientTrimsBaseURL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("server.base_url", "https://feed.example.com/")

	cfg, err := LoadClient(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerBaseURL != "https://feed.example.com" {
		t.Fatalf("unexpected base url %q", cfg.ServerBaseURL)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.RequestTimeout)
	}
}

func TestLoadClientRejectsNonPositiveTimeout(t *testing.T) {
	configViper := NewViper()
	configViper.Set("http.timeout_seconds", 0)

	if _, err := LoadClient(configViper); err == nil {
		t.Fatalf("expected timeout validation error")
	}
}
