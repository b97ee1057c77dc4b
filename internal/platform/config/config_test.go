package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"STORE_FIREBASE_PROJECT_ID": "iryastone-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "iryastone-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Pricing.Currency != "GBP" {
		t.Errorf("expected GBP currency, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.VATRate.String() != "0.2" {
		t.Errorf("expected vat rate 0.2, got %s", cfg.Pricing.VATRate)
	}
	if cfg.Pricing.DepositRate.String() != "0.3" {
		t.Errorf("expected deposit rate 0.3, got %s", cfg.Pricing.DepositRate)
	}
	if cfg.Firestore.DialTimeout != 10*time.Second {
		t.Errorf("unexpected firestore dial timeout: %s", cfg.Firestore.DialTimeout)
	}
	if cfg.Sync.LineTimeout != 10*time.Second {
		t.Errorf("unexpected line timeout: %s", cfg.Sync.LineTimeout)
	}
	if cfg.Sync.JobTimeout != 2*time.Minute {
		t.Errorf("unexpected job timeout: %s", cfg.Sync.JobTimeout)
	}
	if cfg.Catalog.FeaturedLimit != 8 {
		t.Errorf("unexpected featured limit: %d", cfg.Catalog.FeaturedLimit)
	}
	if cfg.Redis.Enabled() {
		t.Errorf("expected redis disabled without an endpoint")
	}
	if cfg.Redis.Prefix != "irya" {
		t.Errorf("expected default redis prefix, got %s", cfg.Redis.Prefix)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STORE_ENVIRONMENT":            "PROD",
		"STORE_SERVER_PORT":            "9090",
		"STORE_SERVER_READ_TIMEOUT":    "20s",
		"STORE_FIREBASE_PROJECT_ID":    "iryastone-uk",
		"STORE_FIRESTORE_PROJECT_ID":   "iryastone-data",
		"STORE_REDIS_ADDR":             "127.0.0.1:6379",
		"STORE_REDIS_PASSWORD":         "sm://redis/password",
		"STORE_REDIS_DB":               "2",
		"STORE_PRICING_VAT_RATE":       "0.05",
		"STORE_PRICING_DEPOSIT_RATE":   "0.5",
		"STORE_PRICING_CURRENCY":       "eur",
		"STORE_SYNC_LINE_TIMEOUT":      "3s",
		"STORE_SYNC_OUTCOME_TOPIC":     "cart-sync",
		"STORE_CATALOG_FEATURED_LIMIT": "4",
	}

	var requested string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		requested = ref
		return "hunter2", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if requested != "secret://redis/password" {
		t.Fatalf("expected normalised secret ref, got %q", requested)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Fatalf("expected resolved redis password, got %q", cfg.Redis.Password)
	}
	if cfg.Environment != "prod" {
		t.Errorf("expected lowercase environment, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %#v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "iryastone-data" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config: %#v", cfg.Redis)
	}
	if cfg.Pricing.Currency != "EUR" || cfg.Pricing.VATRate.String() != "0.05" || cfg.Pricing.DepositRate.String() != "0.5" {
		t.Errorf("unexpected pricing config: %#v", cfg.Pricing)
	}
	if cfg.Sync.LineTimeout != 3*time.Second || cfg.Sync.OutcomeTopic != "cart-sync" {
		t.Errorf("unexpected sync config: %#v", cfg.Sync)
	}
	if cfg.Catalog.FeaturedLimit != 4 {
		t.Errorf("unexpected featured limit: %d", cfg.Catalog.FeaturedLimit)
	}
}

func TestLoadMissingProject(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "Firebase.ProjectID" || fields[1] != "Firestore.ProjectID" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestLoadRejectsOutOfRangeRates(t *testing.T) {
	env := map[string]string{
		"STORE_FIREBASE_PROJECT_ID":  "iryastone-dev",
		"STORE_PRICING_VAT_RATE":     "-0.1",
		"STORE_PRICING_DEPOSIT_RATE": "1.5",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "Pricing.VATRate" || fields[1] != "Pricing.DepositRate" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"STORE_FIREBASE_PROJECT_ID": "iryastone-dev",
		"STORE_REDIS_PASSWORD":      "secret://redis/password",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver not configured, got %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport STORE_FIREBASE_PROJECT_ID=\"from-dotenv\"\nSTORE_SERVER_PORT=7070\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"STORE_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-dotenv" {
		t.Fatalf("expected dotenv project, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "6060" {
		t.Fatalf("expected env map to win over dotenv, got %s", cfg.Server.Port)
	}
}
