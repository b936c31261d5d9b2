package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("MASTER_KEY_B64", testKey)
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Inference.DefaultProvider != "openai" || cfg.Inference.DefaultModel != "gpt-3.5-turbo" {
		t.Fatalf("unexpected inference defaults %+v", cfg.Inference)
	}
	if cfg.Inference.Temperature != 0.7 || cfg.Inference.MaxTokens != 1000 || cfg.Inference.ContextWindow != 20 {
		t.Fatalf("unexpected generation defaults %+v", cfg.Inference)
	}
	if cfg.Inference.SelfHostedTimeout != 300*time.Second || cfg.Inference.HostedTimeout != 60*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg.Inference)
	}
	if cfg.Rate.Requests != 100 || cfg.Rate.Window != time.Minute {
		t.Fatalf("unexpected rate defaults %+v", cfg.Rate)
	}
	if cfg.Upload.MaxSize != 10485760 || len(cfg.Upload.AllowedTypes) != 11 {
		t.Fatalf("unexpected upload defaults %+v", cfg.Upload)
	}
	if cfg.Crypto.CurrentKeyID != "default" || len(cfg.Crypto.Keys["default"]) != 32 {
		t.Fatalf("unexpected crypto config %+v", cfg.Crypto.CurrentKeyID)
	}
	if cfg.Storage.Enabled() {
		t.Fatalf("object storage should be disabled without credentials")
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("MASTER_KEY_B64", testKey)
	t.Setenv("JWT_SECRET", "short")
	if _, err := Load(); !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("MASTER_KEY_B64", "")
	if _, err := Load(); !errors.Is(err, ErrMissingMasterKey) {
		t.Fatalf("expected ErrMissingMasterKey, got %v", err)
	}
}

func TestLoadDBIgnoresOtherSettings(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "file:test.db")
	t.Setenv("JWT_SECRET", "")

	db, err := LoadDB()
	if err != nil {
		t.Fatalf("load db: %v", err)
	}
	if db.Driver != "sqlite" || db.DSN != "file:test.db" || !db.AutoMigrate {
		t.Fatalf("unexpected db config %+v", db)
	}
}

func TestLoadRejectsTemperatureOutOfRange(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("INFERENCE_TEMPERATURE", "2.5")
	if _, err := Load(); !errors.Is(err, ErrInvalidTemperature) {
		t.Fatalf("expected ErrInvalidTemperature, got %v", err)
	}
}

func TestLoadProvidersFile(t *testing.T) {
	t.Setenv("LOCAL_LLM_URL", "http://gpu:8000/v1")
	path := filepath.Join(t.TempDir(), "providers.yaml")
	body := `
providers:
  - name: local
    type: VLLM
    params:
      endpoint: ${LOCAL_LLM_URL}
      timeout: 120s
  - name: hosted
    type: openai
    params:
      api_key: mock-key
bindings:
  default: local
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	pf, err := LoadProvidersFile(path)
	if err != nil {
		t.Fatalf("load providers file: %v", err)
	}
	if len(pf.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(pf.Providers))
	}
	if pf.Providers[0].Type != "vllm" || pf.Providers[0].Params["endpoint"] != "http://gpu:8000/v1" {
		t.Fatalf("unexpected first provider %+v", pf.Providers[0])
	}
	if pf.Bindings["default"] != "local" {
		t.Fatalf("unexpected bindings %+v", pf.Bindings)
	}
}

func TestLoadProvidersFileRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	body := "providers:\n  - name: a\n    type: openai\n  - name: a\n    type: vllm\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadProvidersFile(path); err == nil {
		t.Fatalf("expected duplicate provider error")
	}
}
