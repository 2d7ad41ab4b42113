package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rawblock/botwall-engine/internal/pii"
	"github.com/rawblock/botwall-engine/internal/signals"
	"github.com/rawblock/botwall-engine/pkg/models"
)

func testDetector(name string, required []string, fn DetectFunc) *Detector {
	return &Detector{
		Name:            name,
		Category:        "Test",
		Priority:        10,
		Timeout:         100 * time.Millisecond,
		Enabled:         true,
		RequiredSignals: required,
		Detect:          fn,
	}
}

func runOrchestrator(t *testing.T, reg *Registry, cfg OrchestratorConfig, sink *signals.Sink) *Ledger {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	o := NewOrchestrator(reg, NewAggregator(0, 0), cfg)
	ledger, err := o.Run(context.Background(), sink, pii.NewVault(), "req1", "sess1", "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	return ledger
}

func TestWaveOrderingByRequiredSignals(t *testing.T) {
	sink := signals.NewSink(0, 0)
	sink.Raise("hydration.complete", "sess1")

	reg := NewRegistry()
	reg.Register(testDetector("first", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		req.Sink.Raise("first.done", req.SessionID)
		return []models.Contribution{contribution("first", "Test", 0.2, 1, "w0")}, nil
	}))
	reg.Register(testDetector("second", []string{"first.done"}, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		return []models.Contribution{contribution("second", "Test", 0.2, 1, "w1")}, nil
	}))

	ledger := runOrchestrator(t, reg, OrchestratorConfig{ParallelWaveExecution: true}, sink)

	if len(ledger.Contributions()) != 2 {
		t.Fatalf("Expected both waves to run, got %d contributions", len(ledger.Contributions()))
	}
	completed := ledger.Completed()
	if completed[0] != "first" || completed[1] != "second" {
		t.Errorf("Expected dependency ordering first→second, got %v", completed)
	}
}

func TestUnsatisfiableDetectorNeverRuns(t *testing.T) {
	sink := signals.NewSink(0, 0)
	reg := NewRegistry()
	ran := false
	reg.Register(testDetector("needs_missing", []string{"never.raised"}, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		ran = true
		return nil, nil
	}))

	ledger := runOrchestrator(t, reg, OrchestratorConfig{}, sink)
	if ran {
		t.Errorf("Detector with unsatisfied required signals must not run")
	}
	if len(ledger.Completed()) != 0 {
		t.Errorf("Nothing should have completed")
	}
}

func TestDetectorErrorIsSwallowed(t *testing.T) {
	sink := signals.NewSink(0, 0)
	reg := NewRegistry()
	reg.Register(testDetector("boom", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		return nil, errors.New("lookup failed")
	}))
	reg.Register(testDetector("ok", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		return []models.Contribution{contribution("ok", "Test", 0.1, 1, "fine")}, nil
	}))

	ledger := runOrchestrator(t, reg, OrchestratorConfig{ParallelWaveExecution: true}, sink)

	failed := ledger.Failed()
	if len(failed) != 1 || failed[0] != "boom" {
		t.Errorf("Expected boom in failed set, got %v", failed)
	}
	if len(ledger.Contributions()) != 1 {
		t.Errorf("Healthy detector must still contribute")
	}
}

func TestDetectorPanicIsSwallowed(t *testing.T) {
	sink := signals.NewSink(0, 0)
	reg := NewRegistry()
	reg.Register(testDetector("panicky", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		panic("nil map write")
	}))

	ledger := runOrchestrator(t, reg, OrchestratorConfig{}, sink)
	if len(ledger.Failed()) != 1 {
		t.Errorf("Panicking detector must be recorded as failed, got %v", ledger.Failed())
	}
}

func TestDetectorTimeout(t *testing.T) {
	sink := signals.NewSink(0, 0)
	reg := NewRegistry()
	slow := testDetector("slow", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		select {
		case <-time.After(time.Second):
			return []models.Contribution{contribution("slow", "Test", 0.5, 1, "late")}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	slow.Timeout = 20 * time.Millisecond
	slow.Optional = true
	reg.Register(slow)

	ledger := runOrchestrator(t, reg, OrchestratorConfig{}, sink)
	if len(ledger.Failed()) != 1 {
		t.Errorf("Timed-out detector must land in failed set")
	}
	if len(ledger.Contributions()) != 0 {
		t.Errorf("Timed-out detector must not contribute")
	}
}

func TestEarlyExitSkipsRemainingWaves(t *testing.T) {
	sink := signals.NewSink(0, 0)
	reg := NewRegistry()
	reg.Register(testDetector("verdict", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		c := contribution("verdict", "Test", 1.0, 2, "blacklisted")
		c.EarlyExit = models.ExitBlacklisted
		req.Sink.Raise("verdict.done", req.SessionID)
		return []models.Contribution{c}, nil
	}))
	laterRan := false
	reg.Register(testDetector("later", []string{"verdict.done"}, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		laterRan = true
		return nil, nil
	}))

	ledger := runOrchestrator(t, reg, OrchestratorConfig{}, sink)
	if ledger.EarlyExit() == nil {
		t.Fatalf("Expected early exit recorded")
	}
	if laterRan {
		t.Errorf("Waves after an early exit must not run")
	}
}

func TestQuorumStopsWaves(t *testing.T) {
	sink := signals.NewSink(0, 0)
	reg := NewRegistry()
	reg.Register(testDetector("confident", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		req.Sink.Raise("confident.done", req.SessionID)
		return []models.Contribution{contribution("confident", "Test", 1.0, 5, "sure")}, nil
	}))
	laterRan := false
	reg.Register(testDetector("later", []string{"confident.done"}, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		laterRan = true
		return nil, nil
	}))

	ledger := runOrchestrator(t, reg, OrchestratorConfig{
		EnableQuorumExit:          true,
		QuorumConfidenceThreshold: 0.9,
	}, sink)

	if laterRan {
		t.Errorf("Quorum must stop launching further waves")
	}
	if len(ledger.Contributions()) != 1 {
		t.Errorf("Expected only the first wave's contribution")
	}
}

func TestPIIGating(t *testing.T) {
	sink := signals.NewSink(0, 0)
	vault := pii.NewVault()
	vault.Store("req1", &pii.Data{ClientIP: "203.0.113.7"})

	reg := NewRegistry()
	var withPII, withoutPII *pii.Data
	plain := testDetector("plain", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		withoutPII = req.PII()
		return nil, nil
	})
	reg.Register(plain)
	aware := testDetector("aware", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		withPII = req.PII()
		return nil, nil
	})
	aware.AccessesPII = true
	reg.Register(aware)

	o := NewOrchestrator(reg, NewAggregator(0, 0), OrchestratorConfig{Timeout: time.Second})
	if _, err := o.Run(context.Background(), sink, vault, "req1", "sess1", ""); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if withoutPII != nil {
		t.Errorf("Undeclared detector must not see PII")
	}
	if withPII == nil || withPII.ClientIP != "203.0.113.7" {
		t.Errorf("Declared detector must see the vault record")
	}
}

func TestDetectionPolicySubset(t *testing.T) {
	sink := signals.NewSink(0, 0)
	reg := NewRegistry()
	ranA, ranB := false, false
	reg.Register(testDetector("a", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		ranA = true
		return nil, nil
	}))
	reg.Register(testDetector("b", nil, func(ctx context.Context, req *Request) ([]models.Contribution, error) {
		ranB = true
		return nil, nil
	}))
	reg.RegisterPolicy(DetectionPolicy{Name: "api", Enabled: true, Detectors: []string{"a"}})

	o := NewOrchestrator(reg, NewAggregator(0, 0), OrchestratorConfig{Timeout: time.Second})
	if _, err := o.Run(context.Background(), sink, pii.NewVault(), "req1", "sess1", "api"); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if !ranA || ranB {
		t.Errorf("Policy subset must run a only: a=%v b=%v", ranA, ranB)
	}
}

func TestRegistryPriorityOrdering(t *testing.T) {
	reg := NewRegistry()
	d1 := testDetector("late", nil, nil)
	d1.Priority = 50
	d2 := testDetector("early", nil, nil)
	d2.Priority = 1
	d3 := testDetector("tied_second", nil, nil)
	d3.Priority = 50
	reg.Register(d1)
	reg.Register(d2)
	reg.Register(d3)

	got := reg.EnabledFor("")
	if got[0].Name != "early" || got[1].Name != "late" || got[2].Name != "tied_second" {
		names := []string{got[0].Name, got[1].Name, got[2].Name}
		t.Errorf("Priority ordering wrong: %v", names)
	}
}

func TestRegistryConfigure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testDetector("tunable", nil, nil))

	off := false
	prio := 99
	tmo := 5
	reg.Configure(map[string]Settings{
		"tunable": {Enabled: &off, Priority: &prio, TimeoutMs: &tmo},
		"ghost":   {Enabled: &off}, // Unknown name must be skipped, not fatal
	})

	d, _ := reg.Get("tunable")
	if d.Enabled || d.Priority != 99 || d.Timeout != 5*time.Millisecond {
		t.Errorf("Configure did not apply: %+v", d)
	}
	if len(reg.EnabledFor("")) != 0 {
		t.Errorf("Disabled detector must not be enabled")
	}
}
