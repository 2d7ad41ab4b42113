package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Configuration
//
// One YAML file describes the whole deployment: the gateway, the
// orchestrator knobs, per-detector overrides, detection policies with
// their band → action mappings, action policy definitions, escalation
// subscribers and the optional external stores. Missing sections fall
// back to defaults; a broken individual policy is skipped at
// registration time, never fatal.
// ──────────────────────────────────────────────────────────────────────

// Config is the root of the YAML document.
type Config struct {
	Server            ServerConfig                         `yaml:"server"`
	Orchestrator      OrchestratorConfig                   `yaml:"orchestrator"`
	Detectors         map[string]DetectorConfig            `yaml:"detectors"`
	DetectionPolicies map[string]DetectionPolicyConfig     `yaml:"detection_policies"`
	ActionPolicies    map[string]models.ActionPolicyConfig `yaml:"action_policies"`
	Escalation        EscalationConfig                     `yaml:"escalation"`
	Signatures        SignatureConfig                      `yaml:"signatures"`
	Redis             RedisConfig                          `yaml:"redis"`
	Postgres          PostgresConfig                       `yaml:"postgres"`
}

// ServerConfig configures the gateway process.
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	OpsAddr         string `yaml:"ops_addr"` // Ops API + metrics listener
	UpstreamURL     string `yaml:"upstream_url"`
	APIToken        string `yaml:"api_token"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	DetectionPolicy string `yaml:"detection_policy"`
}

// OrchestratorConfig mirrors the orchestrator section.
type OrchestratorConfig struct {
	ParallelWaveExecution     bool    `yaml:"parallel_wave_execution"`
	EnableQuorumExit          bool    `yaml:"enable_quorum_exit"`
	QuorumConfidenceThreshold float64 `yaml:"quorum_confidence_threshold"`
	TimeoutMs                 int     `yaml:"timeout_ms"`
	MaxSignalCapacity         int     `yaml:"max_signal_capacity"`
	SignalRetentionMinutes    int     `yaml:"signal_retention_minutes"`
}

// Timeout converts the millisecond knob.
func (o OrchestratorConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// SignalRetention converts the minute knob.
func (o OrchestratorConfig) SignalRetention() time.Duration {
	return time.Duration(o.SignalRetentionMinutes) * time.Minute
}

// DetectorConfig overrides a registered detector's defaults. Nil fields
// leave the registration-time value untouched.
type DetectorConfig struct {
	Enabled    *bool             `yaml:"enabled"`
	Priority   *int              `yaml:"priority"`
	TimeoutMs  *int              `yaml:"timeout_ms"`
	Parameters map[string]string `yaml:"parameters"`
}

// DetectionPolicyConfig names a traffic class.
type DetectionPolicyConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Detectors     []string          `yaml:"detectors"`
	ActionMapping map[string]string `yaml:"action_mapping"`
	Parameters    map[string]string `yaml:"parameters"`
}

// EscalationConfig configures the fanout boundary.
type EscalationConfig struct {
	QueueCapacity       int             `yaml:"queue_capacity"`
	WebhookMaxPerSecond float64         `yaml:"webhook_max_per_second"`
	Webhooks            []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig registers one webhook endpoint at startup.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	MinBand string            `yaml:"min_band"`
	Headers map[string]string `yaml:"headers"`
}

// SignatureConfig configures the rolling signature table.
type SignatureConfig struct {
	MaxEntries    int     `yaml:"max_entries"`
	TTLMinutes    int     `yaml:"ttl_minutes"`
	Alpha         float64 `yaml:"alpha"`
	HistoryLength int     `yaml:"history_length"`
}

// TTL converts the minute knob.
func (s SignatureConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// RedisConfig enables the optional cross-replica signature mirror.
type RedisConfig struct {
	Addr     string `yaml:"addr"` // Empty disables the mirror
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	HashKey  string `yaml:"hash_key"`
}

// PostgresConfig enables the optional detection-event store.
type PostgresConfig struct {
	URL string `yaml:"url"` // Empty disables persistence
}

// Load reads and parses the YAML file, applying defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document, applying defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// enabled defaults to true when omitted; a plain bool cannot tell
	// omitted from false, so probe the raw document for explicit values.
	var shadow struct {
		ActionPolicies map[string]struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"action_policies"`
		DetectionPolicies map[string]struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"detection_policies"`
	}
	_ = yaml.Unmarshal(raw, &shadow)

	// Policy names live in the map keys; mirror them into the records so
	// the registries see consistent identities.
	for name, p := range cfg.ActionPolicies {
		p.Name = name
		e := shadow.ActionPolicies[name].Enabled
		p.Enabled = e == nil || *e
		cfg.ActionPolicies[name] = p
	}
	for name, p := range cfg.DetectionPolicies {
		e := shadow.DetectionPolicies[name].Enabled
		p.Enabled = e == nil || *e
		cfg.DetectionPolicies[name] = p
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			OpsAddr:         ":9090",
			RateLimitPerMin: 120,
		},
		Orchestrator: OrchestratorConfig{
			ParallelWaveExecution:     true,
			EnableQuorumExit:          false,
			QuorumConfidenceThreshold: 0.9,
			TimeoutMs:                 500,
			MaxSignalCapacity:         2048,
			SignalRetentionMinutes:    5,
		},
		Escalation: EscalationConfig{
			QueueCapacity:       512,
			WebhookMaxPerSecond: 5,
		},
		Signatures: SignatureConfig{
			MaxEntries:    10000,
			TTLMinutes:    30,
			Alpha:         0.3,
			HistoryLength: 60,
		},
	}
}
