package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_ENC_KEY", "a2V5LWZyb20tZW52")
	path := writeConfig(t, `
security:
  encryption_key: ${TEST_ENC_KEY}
llm:
  providers:
    anthropic:
      api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.EncryptionKey != "a2V5LWZyb20tZW52" {
		t.Errorf("EncryptionKey = %q", cfg.Security.EncryptionKey)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Driver = %q", cfg.Storage.Driver)
	}
	if cfg.Auth.TokenExpiry != 24*time.Hour {
		t.Errorf("TokenExpiry = %v", cfg.Auth.TokenExpiry)
	}
	if len(cfg.LLM.ProviderOrder) != 3 || cfg.LLM.ProviderOrder[0] != "anthropic" {
		t.Errorf("ProviderOrder = %v", cfg.LLM.ProviderOrder)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing encryption key", `
server:
  port: 9000
`},
		{"postgres without dsn", `
security:
  encryption_key: k
storage:
  driver: postgres
`},
		{"unknown storage driver", `
security:
  encryption_key: k
storage:
  driver: cassandra
`},
		{"unknown provider", `
security:
  encryption_key: k
llm:
  provider_order: [anthropic, mistral]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error")
	}
}
