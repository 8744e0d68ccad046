package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefault_Verifies(t *testing.T) {
	if err := Verify(Default()); err != nil {
		t.Fatalf("Verify(Default()) error = %v", err)
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()
	if cfg.Breaker.Threshold != 5 || cfg.Breaker.Cooldown != 30*time.Second {
		t.Errorf("breaker defaults = %+v", cfg.Breaker)
	}
	if cfg.Profiles.TTL != 5*time.Minute || cfg.Profiles.UpdateAttempts != 3 {
		t.Errorf("profile defaults = %+v", cfg.Profiles)
	}
	if cfg.Identity.Timeout != 10*time.Second {
		t.Errorf("identity timeout = %v", cfg.Identity.Timeout)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad endpoint", func(c *Config) { c.Identity.Endpoint = "ftp://idp" }, "identity.endpoint"},
		{"https endpoint", func(c *Config) { c.Identity.Endpoint = "https://idp.example.com/introspect" }, ""},
		{"zero timeout", func(c *Config) { c.Identity.Timeout = 0 }, "identity.timeout"},
		{"burst missing", func(c *Config) { c.Identity.Burst = 0 }, "identity.burst"},
		{"missing ca file", func(c *Config) { c.Identity.TLSCAFile = "/nonexistent/ca.pem" }, "tls_ca_file"},
		{"static without subject", func(c *Config) {
			c.Identity.Static = []StaticCredential{{Credential: "x"}}
		}, "identity.static[0]"},
		{"threshold", func(c *Config) { c.Breaker.Threshold = 0 }, "breaker.threshold"},
		{"base over max", func(c *Config) { c.Retry.BaseDelay = time.Minute }, "retry.base_delay"},
		{"jitter", func(c *Config) { c.Retry.JitterFactor = 2 }, "jitter_factor"},
		{"update attempts", func(c *Config) { c.Profiles.UpdateAttempts = 0 }, "update_attempts"},
		{"engine", func(c *Config) { c.Storage.Engine = "redis" }, "storage.engine"},
		{"badger without dir", func(c *Config) {
			c.Storage.Engine = EngineBadger
			c.Storage.DataDir = " "
		}, "storage.data_dir"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"subscriber buffer", func(c *Config) { c.Notify.SubscriberBuffer = 0 }, "subscriber_buffer"},
		{"metrics addr", func(c *Config) { c.Metrics.Addr = "9090" }, "metrics.addr"},
		{"metrics port only", func(c *Config) { c.Metrics.Addr = ":9090" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Verify(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Verify() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Breaker.Threshold = 0
	cfg.Log.Format = "xml"
	err := Verify(cfg)
	if err == nil {
		t.Fatal("Verify() = nil")
	}
	if !strings.Contains(err.Error(), "breaker.threshold") || !strings.Contains(err.Error(), "log.format") {
		t.Errorf("Verify() error = %v, want both problems", err)
	}
}

func TestSanitize(t *testing.T) {
	cfg := Default()
	cfg.Identity.ClientSecret = "supersecretvalue"
	cfg.Storage.EncryptionKey = "0123456789abcdef"
	cfg.Identity.Static = []StaticCredential{{Credential: "demo-token-1", Subject: "u1"}}

	s := Sanitize(cfg)
	if s.Identity.ClientSecret == cfg.Identity.ClientSecret || strings.Contains(s.Identity.ClientSecret, "secret") {
		t.Errorf("client secret not masked: %q", s.Identity.ClientSecret)
	}
	if s.Storage.EncryptionKey != "01************ef" {
		t.Errorf("encryption key = %q", s.Storage.EncryptionKey)
	}
	if s.Identity.Static[0].Credential == "demo-token-1" {
		t.Error("static credential not masked")
	}
	if cfg.Identity.Static[0].Credential != "demo-token-1" {
		t.Error("Sanitize() modified the original")
	}
}
