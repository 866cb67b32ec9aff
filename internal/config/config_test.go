package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy/internal/types"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Approval.AutoApproveLowRisk)
	assert.False(t, cfg.Approval.AllowDestructiveActions)
	assert.Equal(t, 3, cfg.Healing.MaxRetries)
	assert.Equal(t, 5, cfg.Healing.MaxHealingAttempts)
	assert.Equal(t, 0.5, cfg.Healing.RequireApprovalThreshold)
	assert.Contains(t, cfg.Approval.RequireConfirmationFor, types.ActionDelete)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Healing.MaxRetries, cfg.Healing.MaxRetries)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".remedy")
	require.NoError(t, os.MkdirAll(dir, 0755))

	yaml := `
healing:
  allow_auto_fix: false
  max_retries: 7
approval:
  auto_approve_low_risk: false
  timeout_seconds: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.False(t, cfg.Healing.AllowAutoFix)
	assert.Equal(t, 7, cfg.Healing.MaxRetries)
	assert.False(t, cfg.Approval.AutoApproveLowRisk)
	assert.Equal(t, 30*time.Second, cfg.Approval.Timeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REMEDY_API_KEY", "key-from-env")
	t.Setenv("REMEDY_DEBUG", "1")
	t.Setenv("REMEDY_MODEL", "gemini-exp")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.Generator.APIKey)
	assert.True(t, cfg.Logging.DebugMode)
	assert.Equal(t, "gemini-exp", cfg.Generator.Model)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.Healing.MaxRetries = -1 }},
		{"threshold above one", func(c *Config) { c.Healing.RequireApprovalThreshold = 1.5 }},
		{"zero batch size", func(c *Config) { c.Approval.MaxBatchSize = 0 }},
		{"bad duration", func(c *Config) { c.Healing.MaxHealingTime = "not-a-duration" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ws := t.TempDir()

	cfg := Default()
	cfg.Healing.MaxHealingAttempts = 9
	cfg.Validation.SkipFor = []types.ValidationType{types.ValidationConventions}
	require.NoError(t, cfg.Save(ws))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Healing.MaxHealingAttempts)
	assert.True(t, loaded.Validation.Skipped(types.ValidationConventions))
}

func TestPolicyHelpers(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Approval.NeedsBackup(types.ActionModify))
	assert.False(t, cfg.Approval.NeedsBackup(types.ActionBranch))

	assert.True(t, cfg.Healing.AutoFixAllowed(types.ValidationSyntax))
	assert.False(t, cfg.Healing.AutoFixAllowed(types.ValidationDiagnostics))

	cfg.Healing.AllowAutoFix = false
	assert.False(t, cfg.Healing.AutoFixAllowed(types.ValidationSyntax))

	assert.Equal(t, 10*time.Minute, HealingPolicy{}.HealingTimeout())
	assert.Equal(t, 90*time.Second, HealingPolicy{MaxHealingTime: "90s"}.HealingTimeout())
}
