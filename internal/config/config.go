// Package config holds all remedy configuration. Config is loaded once at
// startup from .remedy/config.yaml, validated, and never mutated during a
// healing cycle. Policy objects handed to components are copies of these
// structs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"remedy/internal/types"
)

// Config holds all remedy configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Approval gate policy
	Approval ApprovalPolicy `yaml:"approval"`

	// Self-healing loop policy
	Healing HealingPolicy `yaml:"healing"`

	// Validation engine policy
	Validation ValidationPolicy `yaml:"validation"`

	// Content generator settings
	Generator GeneratorConfig `yaml:"generator"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ApprovalPolicy configures the approval gate.
type ApprovalPolicy struct {
	AutoApproveLowRisk    bool `yaml:"auto_approve_low_risk"`
	AutoApproveMediumRisk bool `yaml:"auto_approve_medium_risk"`
	AutoApproveHighRisk   bool `yaml:"auto_approve_high_risk"`

	// RequireConfirmationFor lists action types that always need a human,
	// regardless of risk.
	RequireConfirmationFor []types.ActionType `yaml:"require_confirmation_for"`

	AllowBatchActions       bool `yaml:"allow_batch_actions"`
	MaxBatchSize            int  `yaml:"max_batch_size"`
	AllowDestructiveActions bool `yaml:"allow_destructive_actions"`

	// RequireBackupBefore lists action types that must be checkpointed
	// before execution.
	RequireBackupBefore []types.ActionType `yaml:"require_backup_before"`

	// TimeoutSeconds bounds how long an approval request may block.
	// Expiry is treated as a decline.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the approval timeout as a duration.
func (p ApprovalPolicy) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// NeedsBackup reports whether the policy requires a checkpoint before the
// given action type.
func (p ApprovalPolicy) NeedsBackup(t types.ActionType) bool {
	for _, at := range p.RequireBackupBefore {
		if at == t {
			return true
		}
	}
	return false
}

// HealingPolicy configures the self-healing loop.
type HealingPolicy struct {
	AllowAutoFix         bool `yaml:"allow_auto_fix"`
	AllowUnapprovedFixes bool `yaml:"allow_unapproved_fixes"`

	// MaxRetries bounds apply attempts in one heal() call.
	MaxRetries int `yaml:"max_retries"`

	// MaxHealingAttempts bounds how many failure analyses are considered.
	MaxHealingAttempts int `yaml:"max_healing_attempts"`

	// AllowedAutoFixTypes restricts which validation types may be fixed
	// without a human. Empty means none.
	AllowedAutoFixTypes []types.ValidationType `yaml:"allowed_auto_fix_types"`

	// RequireApprovalThreshold: analyses with confidence below this always
	// go through approval even when otherwise auto-fixable.
	RequireApprovalThreshold float64 `yaml:"require_approval_threshold"`

	// MaxHealingTime bounds one heal() call wall-clock (duration string).
	MaxHealingTime string `yaml:"max_healing_time"`
}

// AutoFixAllowed reports whether the policy permits automatic fixes for the
// given validation type.
func (p HealingPolicy) AutoFixAllowed(t types.ValidationType) bool {
	if !p.AllowAutoFix {
		return false
	}
	for _, vt := range p.AllowedAutoFixTypes {
		if vt == t {
			return true
		}
	}
	return false
}

// HealingTimeout parses MaxHealingTime, defaulting to 10 minutes.
func (p HealingPolicy) HealingTimeout() time.Duration {
	return parseDuration(p.MaxHealingTime, 10*time.Minute)
}

// ValidationPolicy configures the validation engine.
type ValidationPolicy struct {
	Required []types.ValidationType `yaml:"required"`
	Optional []types.ValidationType `yaml:"optional"`

	// SkipFor lists validation types excluded from every run.
	SkipFor []types.ValidationType `yaml:"skip_for"`

	// MaxValidationTime bounds one engine run (duration string).
	MaxValidationTime string `yaml:"max_validation_time"`
}

// ValidationTimeout parses MaxValidationTime, defaulting to 2 minutes.
func (p ValidationPolicy) ValidationTimeout() time.Duration {
	return parseDuration(p.MaxValidationTime, 2*time.Minute)
}

// Skipped reports whether a validation type is on the skip list.
func (p ValidationPolicy) Skipped(t types.ValidationType) bool {
	for _, vt := range p.SkipFor {
		if vt == t {
			return true
		}
	}
	return false
}

// GeneratorConfig configures the content generator adapter.
type GeneratorConfig struct {
	Provider string `yaml:"provider"` // genai, none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// GenerateTimeout parses Timeout, defaulting to 60 seconds.
func (g GeneratorConfig) GenerateTimeout() time.Duration {
	return parseDuration(g.Timeout, 60*time.Second)
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Name:    "remedy",
		Version: "0.3.0",
		Approval: ApprovalPolicy{
			AutoApproveLowRisk:    true,
			AutoApproveMediumRisk: false,
			AutoApproveHighRisk:   false,
			RequireConfirmationFor: []types.ActionType{
				types.ActionDelete,
				types.ActionRunCommand,
			},
			AllowBatchActions:       true,
			MaxBatchSize:            10,
			AllowDestructiveActions: false,
			RequireBackupBefore: []types.ActionType{
				types.ActionModify,
				types.ActionDelete,
				types.ActionMove,
			},
			TimeoutSeconds: 300,
		},
		Healing: HealingPolicy{
			AllowAutoFix:         true,
			AllowUnapprovedFixes: false,
			MaxRetries:           3,
			MaxHealingAttempts:   5,
			AllowedAutoFixTypes: []types.ValidationType{
				types.ValidationSyntax,
				types.ValidationStructure,
				types.ValidationLint,
			},
			RequireApprovalThreshold: 0.5,
			MaxHealingTime:           "10m",
		},
		Validation: ValidationPolicy{
			Required: []types.ValidationType{
				types.ValidationDiagnostics,
				types.ValidationSyntax,
			},
			Optional: []types.ValidationType{
				types.ValidationStructure,
				types.ValidationConventions,
			},
			MaxValidationTime: "2m",
		},
		Generator: GeneratorConfig{
			Provider: "genai",
			Model:    "gemini-2.0-flash",
			Timeout:  "60s",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads .remedy/config.yaml under the workspace, applies defaults for
// missing fields and environment overrides, and validates the result.
// A missing file yields the defaults.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".remedy", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over file values for secrets
// and the debug switch.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REMEDY_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Generator.APIKey == "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("REMEDY_DEBUG"); v == "1" || v == "true" {
		cfg.Logging.DebugMode = true
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "debug"
		}
	}
	if v := os.Getenv("REMEDY_MODEL"); v != "" {
		cfg.Generator.Model = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Healing.MaxRetries < 0 {
		return fmt.Errorf("healing.max_retries must be >= 0, got %d", c.Healing.MaxRetries)
	}
	if c.Healing.MaxHealingAttempts < 0 {
		return fmt.Errorf("healing.max_healing_attempts must be >= 0, got %d", c.Healing.MaxHealingAttempts)
	}
	if c.Healing.RequireApprovalThreshold < 0 || c.Healing.RequireApprovalThreshold > 1 {
		return fmt.Errorf("healing.require_approval_threshold must be in [0,1], got %f", c.Healing.RequireApprovalThreshold)
	}
	if c.Approval.MaxBatchSize < 1 {
		return fmt.Errorf("approval.max_batch_size must be >= 1, got %d", c.Approval.MaxBatchSize)
	}
	if c.Approval.TimeoutSeconds < 0 {
		return fmt.Errorf("approval.timeout_seconds must be >= 0, got %d", c.Approval.TimeoutSeconds)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"healing.max_healing_time", c.Healing.MaxHealingTime},
		{"validation.max_validation_time", c.Validation.MaxValidationTime},
		{"generator.timeout", c.Generator.Timeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field.name, field.value)
		}
	}
	return nil
}

// Save writes the configuration to .remedy/config.yaml under the workspace.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".remedy")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// parseDuration parses a duration string, falling back on empty or invalid
// input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
