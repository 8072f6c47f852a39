package secrets

import (
	"strings"

	"github.com/flowpags/payrecon/internal/pkg/env"
)

// Source resolves the webhook signing secret for a tenant.
type Source interface {
	WebhookSecret(tenantID string) string
}

type envSource struct{}

// FromEnv returns a Source backed by environment configuration. Per-tenant
// secrets live under WEBHOOK_SECRET_<TENANT> (tenant uppercased, dashes
// mapped to underscores) with WEBHOOK_SECRET as the shared fallback.
func FromEnv() Source {
	return envSource{}
}

func (envSource) WebhookSecret(tenantID string) string {
	key := "WEBHOOK_SECRET_" + normalizeTenantKey(tenantID)
	if secret := env.GetEnv(key, ""); secret != "" {
		return secret
	}
	return env.GetEnv("WEBHOOK_SECRET", "")
}

func normalizeTenantKey(tenantID string) string {
	s := strings.ToUpper(strings.TrimSpace(tenantID))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, ".", "_")
}
