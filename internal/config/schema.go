// Package config provides typed, validated configuration for the trust
// engine. Resolution order (highest priority first):
// 1. Environment variables (REACH_*)
// 2. Config file (~/.reach/config.json or REACH_CONFIG_PATH)
// 3. Defaults
package config

import "time"

// Config is the top-level configuration structure. It carries both the
// ambient stack (telemetry, determinism, store) and the domain-specific
// construction parameters the capability kernel needs: known/disabled
// capabilities, the tier-to-stamp map, and trusted signing keys.
type Config struct {
	Store       StoreConfig       `json:"store"`
	Kernel      KernelConfig      `json:"kernel"`
	Release     ReleaseConfig     `json:"release"`
	SecretZone  SecretZoneConfig  `json:"secret_zone"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	Determinism DeterminismConfig `json:"determinism"`
}

// StoreConfig controls the content-addressed artifact store.
type StoreConfig struct {
	// RootDir is where the store writes artifact bytes (empty = memory
	// only). Incidents are not written here; see IncidentLogPath.
	RootDir string `json:"root_dir" env:"REACH_STORE_ROOT" default:""`

	// MaxArtifactBytes is a per-artifact size limit (0 = no limit).
	// Validate rejects negative values; the store does not enforce it.
	MaxArtifactBytes int64 `json:"max_artifact_bytes" env:"REACH_STORE_MAX_ARTIFACT_BYTES" default:"104857600"`

	// IncidentLogPath, if set, durably persists incidents via SQLite in
	// addition to the in-memory seq counter.
	IncidentLogPath string `json:"incident_log_path" env:"REACH_STORE_INCIDENT_LOG_PATH" default:""`
}

// CapabilityTier is the trust tier a compartment is granted at spawn.
type CapabilityTier string

// KernelConfig carries the capability kernel's construction parameters:
// the fixed universe of known capabilities, which of those are
// administratively disabled, which require consent brokering, and a
// tier-to-stamp mapping. cmd/reach reads the three capability lists;
// nothing reads TierStamps.
type KernelConfig struct {
	// KnownCapabilities is the fixed universe of capability names the
	// kernel will recognize; anything else is CAP_UNKNOWN.
	KnownCapabilities []string `json:"known_capabilities"`

	// DisabledCapabilities are known capabilities administratively
	// turned off regardless of grant; requests against them are
	// NET_DISABLED_IN_V0.
	DisabledCapabilities []string `json:"disabled_capabilities"`

	// ConsentRequiredCapabilities must clear SecretZone consent
	// brokering before a grant is honored, in every execution mode.
	ConsentRequiredCapabilities []string `json:"consent_required_capabilities"`

	// TierStamps maps a capability tier to the minimum shop stamp it
	// requires. The kernel's stamp check does not consult it: whether a
	// capability needs a stamp comes from kernel.CapRequirement.RequiresStamp.
	TierStamps map[CapabilityTier]string `json:"tier_stamps"`
}

// ReleaseConfig controls release manifest verification.
type ReleaseConfig struct {
	// TrustedKeysPath is the path to the allowlist of signing keys
	// accepted for manifest signatures.
	TrustedKeysPath string `json:"trusted_keys_path" env:"REACH_TRUSTED_KEYS_PATH" default:""`

	// RequirePrivacyLint records whether the privacy-lint checkpoint must
	// pass before a release can reach ALLOW. release.Verify runs the lint
	// unconditionally and does not read this setting.
	RequirePrivacyLint bool `json:"require_privacy_lint" env:"REACH_RELEASE_REQUIRE_PRIVACY_LINT" default:"true"`

	// EvidenceVerifiers lists the evidence verifier plug-in identifiers
	// enabled for this process, e.g. "keytrans.inclusion.v1". cmd/reach
	// does not read it; it always uses evidence.NewDefaultRegistry.
	EvidenceVerifiers []string `json:"evidence_verifiers"`
}

// SecretZoneConfig controls consent brokering under strict-privacy mode.
type SecretZoneConfig struct {
	// ConsentTimeout is the logical (non-wall-clock) timeout for a
	// pending consent request. Validate requires it to be positive; it is
	// not wired to secretzone.Host.TimeoutTicks, which falls back to its
	// own default of one tick.
	ConsentTimeout time.Duration `json:"consent_timeout" env:"REACH_CONSENT_TIMEOUT" default:"30s"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	LogLevel string `json:"log_level" env:"REACH_LOG_LEVEL" default:"info"`
	LogDir   string `json:"log_dir" env:"REACH_LOG_DIR" default:""`
}

// DeterminismConfig controls determinism enforcement.
type DeterminismConfig struct {
	// StrictEntropyChecks selects strict rejection of wall-clock or
	// floating-point values in a decision path. No component reads it;
	// canon.AssertNoEntropy always checks strictly.
	StrictEntropyChecks bool `json:"strict_entropy_checks" env:"REACH_DETERMINISM_STRICT" default:"true"`

	// ReasonBudget is the process-wide cap on normalized reasons.
	// Validate requires it to be positive; no component builds a
	// trust.Budget from it.
	ReasonBudget int `json:"reason_budget" env:"REACH_REASON_BUDGET" default:"2048"`
}

// Default returns the default configuration. Known capabilities are
// deliberately the empty baseline set; a
// deployment supplies its real capability universe via config file or
// environment.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			MaxArtifactBytes: 100 * 1024 * 1024,
		},
		Kernel: KernelConfig{
			KnownCapabilities:           []string{},
			DisabledCapabilities:        []string{},
			ConsentRequiredCapabilities: []string{},
			TierStamps:                  map[CapabilityTier]string{},
		},
		Release: ReleaseConfig{
			RequirePrivacyLint: true,
			EvidenceVerifiers:  []string{"keytrans.inclusion.v1"},
		},
		SecretZone: SecretZoneConfig{
			ConsentTimeout: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			LogLevel: "info",
		},
		Determinism: DeterminismConfig{
			StrictEntropyChecks: true,
			ReasonBudget:        2048,
		},
	}
}
