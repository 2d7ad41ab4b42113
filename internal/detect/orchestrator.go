package detect

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rawblock/botwall-engine/internal/pii"
	"github.com/rawblock/botwall-engine/internal/signals"
	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Wave Orchestrator
//
// Runs the enabled detectors in dependency-ordered waves. A detector
// joins the earliest wave in which every one of its required signal
// patterns is satisfied — by the hydrator for wave 0, or by signals
// raised in earlier waves after that.
//
// Detectors within a wave are independent and run in parallel (one
// goroutine each) under two timeout layers: the per-detector timeout
// clamped by the remaining global budget, and the global deadline.
//
// Early exit: the first contribution carrying a verdict stops new waves
// and cancels the still-running optional detectors of the current wave.
// Quorum: when enabled, a fused confidence at or above the threshold
// after a wave join stops further waves.
// ──────────────────────────────────────────────────────────────────────

// OrchestratorConfig carries the §6.1 orchestrator section.
type OrchestratorConfig struct {
	ParallelWaveExecution     bool
	EnableQuorumExit          bool
	QuorumConfidenceThreshold float64
	Timeout                   time.Duration
}

// DefaultTimeout bounds the whole detection when configuration leaves
// timeout_ms unset.
const DefaultTimeout = 500 * time.Millisecond

// Orchestrator drives detector execution for one deployment.
type Orchestrator struct {
	registry *Registry
	agg      *Aggregator
	cfg      OrchestratorConfig
}

// NewOrchestrator wires the orchestrator to its registry and aggregator.
func NewOrchestrator(registry *Registry, agg *Aggregator, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Orchestrator{registry: registry, agg: agg, cfg: cfg}
}

type detectorOutcome struct {
	detector *Detector
	contribs []models.Contribution
	err      error
}

// Run executes the detection pipeline for one request and returns the
// populated ledger. Detector errors and timeouts never escape; they end
// up in the ledger's failed set. Only caller cancellation propagates.
func (o *Orchestrator) Run(ctx context.Context, sink *signals.Sink, vault *pii.Vault, requestID, sessionID, policyName string) (*Ledger, error) {
	ledger := NewLedger()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	remaining := o.registry.EnabledFor(policyName)

	for wave := 0; len(remaining) > 0; wave++ {
		var runnable, deferred []*Detector
		for _, d := range remaining {
			if o.eligible(d, sink) {
				runnable = append(runnable, d)
			} else {
				deferred = append(deferred, d)
			}
		}
		if len(runnable) == 0 {
			// Nothing left can ever run: required signals unsatisfied.
			break
		}
		remaining = deferred

		o.runWave(ctx, deadline, runnable, sink, vault, requestID, sessionID, ledger)

		if err := ctx.Err(); err != nil {
			if context.Cause(ctx) == context.Canceled {
				// Caller cancellation re-surfaces; deadline expiry does not.
				return ledger, err
			}
			log.Printf("[Orchestrator] Global deadline reached after wave %d (%s)", wave, requestID)
			break
		}
		if exit := ledger.EarlyExit(); exit != nil {
			log.Printf("[Orchestrator] Early exit (%s) from %s, skipping remaining waves", exit.EarlyExit, exit.DetectorName)
			break
		}
		if o.cfg.EnableQuorumExit {
			if conf := o.agg.FuseConfidence(ledger.Contributions()); conf >= o.cfg.QuorumConfidenceThreshold {
				log.Printf("[Orchestrator] Quorum reached (confidence %.2f >= %.2f), stopping waves", conf, o.cfg.QuorumConfidenceThreshold)
				break
			}
		}
	}

	return ledger, nil
}

// eligible reports whether every required pattern matches a signal already
// in the sink. Invalid patterns count as unsatisfied.
func (o *Orchestrator) eligible(d *Detector, sink *signals.Sink) bool {
	for _, pattern := range d.RequiredSignals {
		if !sink.Has(pattern) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) runWave(ctx context.Context, deadline time.Time, wave []*Detector, sink *signals.Sink, vault *pii.Vault, requestID, sessionID string, ledger *Ledger) {
	// Optional detectors get a separately cancellable context so an
	// early-exit verdict can reap them without touching mandatory ones.
	optionalCtx, cancelOptional := context.WithCancel(ctx)
	defer cancelOptional()

	// Every launch delivers exactly one outcome into the buffered channel,
	// so the join is a plain count of receives.
	results := make(chan detectorOutcome, len(wave))

	launch := func(d *Detector) {
		base := ctx
		if d.Optional {
			base = optionalCtx
		}
		budget := d.Timeout
		if rem := time.Until(deadline); budget <= 0 || rem < budget {
			budget = rem
		}
		if budget <= 0 {
			results <- detectorOutcome{detector: d, err: context.DeadlineExceeded}
			return
		}
		dctx, dcancel := context.WithTimeout(base, budget)
		defer dcancel()

		req := &Request{
			RequestID: requestID,
			SessionID: sessionID,
			Sink:      sink,
			digest:    vault.Digest,
		}
		if d.AccessesPII {
			req.piiData = vault.Get(requestID)
		}

		contribs, err := o.invoke(dctx, d, req)
		results <- detectorOutcome{detector: d, contribs: contribs, err: err}
	}

	if o.cfg.ParallelWaveExecution {
		for _, d := range wave {
			go launch(d)
		}
		for range wave {
			o.record(<-results, ledger, cancelOptional)
		}
	} else {
		for _, d := range wave {
			launch(d)
			o.record(<-results, ledger, cancelOptional)
		}
	}
}

func (o *Orchestrator) record(out detectorOutcome, ledger *Ledger, cancelOptional context.CancelFunc) {
	d := out.detector
	if out.err != nil {
		// Timeout and error share one treatment: swallow, record, move on.
		ledger.AddFailure(d.Name)
		if !d.Optional {
			log.Printf("[Orchestrator] Mandatory detector %s failed: %v", d.Name, out.err)
		}
		return
	}
	ledger.AddContributions(d.Name, out.contribs)
	for _, c := range out.contribs {
		if c.EarlyExit != models.ExitNone {
			// Stop wasting budget on optional detectors still in flight.
			cancelOptional()
			break
		}
	}
}

// invoke runs one detector with panic isolation: a panicking detector is
// just a failed detector.
func (o *Orchestrator) invoke(ctx context.Context, d *Detector, req *Request) ([]models.Contribution, error) {
	type result struct {
		contribs []models.Contribution
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{nil, fmt.Errorf("detector %s panicked: %v", d.Name, r)}
			}
		}()
		c, e := d.Detect(ctx, req)
		ch <- result{c, e}
	}()

	select {
	case res := <-ch:
		return res.contribs, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
