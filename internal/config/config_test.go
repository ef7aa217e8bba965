package config

import "testing"

func TestResolveAppURLPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		production string
		deployment string
		want       string
	}{
		{"production wins", "https://crm.example.com", "crm-preview.example.app", "https://crm.example.com"},
		{"deployment fallback", "", "crm-preview.example.app", "https://crm-preview.example.app"},
		{"deployment with scheme kept", "", "http://crm-preview.example.app", "http://crm-preview.example.app"},
		{"localhost fallback", "", "", "http://localhost:3000"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PRODUCTION_URL", tc.production)
			t.Setenv("DEPLOYMENT_URL", tc.deployment)

			if got := resolveAppURL(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestLoadRequiresAutoAnalyzeSecret(t *testing.T) {
	t.Setenv("AUTO_ANALYZE_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when AUTO_ANALYZE_SECRET is missing")
	}

	t.Setenv("AUTO_ANALYZE_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AutoAnalyzeSecret != "s3cret" {
		t.Fatalf("secret not loaded")
	}
	if cfg.SignedURLTTL.Hours() != 1 {
		t.Fatalf("signed URL TTL must be one hour")
	}
}
