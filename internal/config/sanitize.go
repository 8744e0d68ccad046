package config

import "strings"

// Sanitize returns a copy of the config with secrets masked, for logging
// and the `config` output of the CLI.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg

	if sanitized.Identity.ClientSecret != "" {
		sanitized.Identity.ClientSecret = maskSecret(sanitized.Identity.ClientSecret)
	}
	if sanitized.Storage.EncryptionKey != "" {
		sanitized.Storage.EncryptionKey = maskSecret(sanitized.Storage.EncryptionKey)
	}
	if len(cfg.Identity.Static) > 0 {
		sanitized.Identity.Static = make([]StaticCredential, len(cfg.Identity.Static))
		for i, s := range cfg.Identity.Static {
			s.Credential = maskSecret(s.Credential)
			sanitized.Identity.Static[i] = s
		}
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
