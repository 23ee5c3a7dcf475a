package app

import (
	"errors"
	"testing"
)

func TestLoadConfigRequiresSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); !errors.Is(err, ErrJWTSecretRequired) {
		t.Fatalf("expected ErrJWTSecretRequired, got %v", err)
	}
}

func TestLoadConfigDevelopmentFallback(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.JWTSecret != devJWTSecret {
		t.Fatalf("expected development secret, got %q", cfg.JWTSecret)
	}
}

func TestLoadConfigUsesProvidedSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PUBLIC_RATE_LIMIT_PER_WINDOW", "40")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.JWTSecret != "s3cret" || cfg.AppEnv != "production" || cfg.PublicRateLimit != 40 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
