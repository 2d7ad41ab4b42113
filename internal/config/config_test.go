package config

import (
	"testing"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  upstream_url: "http://app:3000"
  detection_policy: edge

orchestrator:
  parallel_wave_execution: true
  enable_quorum_exit: true
  quorum_confidence_threshold: 0.85
  timeout_ms: 250

detectors:
  honeypot:
    enabled: false
  ua_analyzer:
    priority: 5
    timeout_ms: 40

detection_policies:
  edge:
    detectors: [ua_analyzer, header_checker, ip_analyzer]
    action_mapping:
      High: throttle-aggressive
      VeryHigh: block
      Verified: block-hard
  legacy:
    enabled: false
    detectors: [ua_analyzer]

action_policies:
  custom-block:
    type: Block
    block:
      status_code: 451
      message: "No."
      write_raw_message: true
  disabled-block:
    type: Block
    enabled: false
    block:
      status_code: 403
      message: "Nope"

escalation:
  queue_capacity: 64
  webhooks:
    - name: siem
      url: http://siem.internal/hook
      min_band: High

signatures:
  max_entries: 500
  ttl_minutes: 10
  alpha: 0.5

redis:
  addr: "redis:6379"
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.DetectionPolicy != "edge" {
		t.Errorf("Server section wrong: %+v", cfg.Server)
	}
	if cfg.Orchestrator.Timeout() != 250*time.Millisecond {
		t.Errorf("Timeout = %v", cfg.Orchestrator.Timeout())
	}
	if !cfg.Orchestrator.EnableQuorumExit || cfg.Orchestrator.QuorumConfidenceThreshold != 0.85 {
		t.Errorf("Quorum knobs wrong: %+v", cfg.Orchestrator)
	}

	hp := cfg.Detectors["honeypot"]
	if hp.Enabled == nil || *hp.Enabled {
		t.Errorf("honeypot must be explicitly disabled")
	}
	ua := cfg.Detectors["ua_analyzer"]
	if ua.Enabled != nil || ua.Priority == nil || *ua.Priority != 5 {
		t.Errorf("Partial override must leave unset fields nil: %+v", ua)
	}

	edge := cfg.DetectionPolicies["edge"]
	if !edge.Enabled {
		t.Errorf("Omitted enabled must default to true")
	}
	if edge.ActionMapping["High"] != "throttle-aggressive" {
		t.Errorf("Action mapping wrong: %v", edge.ActionMapping)
	}
	if cfg.DetectionPolicies["legacy"].Enabled {
		t.Errorf("Explicit enabled: false must stick")
	}

	cb := cfg.ActionPolicies["custom-block"]
	if cb.Name != "custom-block" || cb.Type != models.ActionBlock || !cb.Enabled {
		t.Errorf("Action policy identity wrong: %+v", cb)
	}
	if cb.Block == nil || cb.Block.StatusCode != 451 || !cb.Block.WriteRawMessage {
		t.Errorf("Block section wrong: %+v", cb.Block)
	}
	if cfg.ActionPolicies["disabled-block"].Enabled {
		t.Errorf("Disabled action policy must stay disabled")
	}

	if cfg.Escalation.QueueCapacity != 64 || len(cfg.Escalation.Webhooks) != 1 {
		t.Errorf("Escalation section wrong: %+v", cfg.Escalation)
	}
	if cfg.Signatures.TTL() != 10*time.Minute || cfg.Signatures.Alpha != 0.5 {
		t.Errorf("Signature section wrong: %+v", cfg.Signatures)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis section wrong: %+v", cfg.Redis)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Default listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Orchestrator.TimeoutMs != 500 || !cfg.Orchestrator.ParallelWaveExecution {
		t.Errorf("Orchestrator defaults wrong: %+v", cfg.Orchestrator)
	}
	if cfg.Signatures.MaxEntries != 10000 || cfg.Signatures.Alpha != 0.3 {
		t.Errorf("Signature defaults wrong: %+v", cfg.Signatures)
	}
	if cfg.Redis.Addr != "" || cfg.Postgres.URL != "" {
		t.Errorf("External stores must default off")
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("::bad::\n\t- {")); err == nil {
		t.Errorf("Malformed YAML must error")
	}
}
