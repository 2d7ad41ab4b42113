package engine

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/botwall-engine/internal/action"
	"github.com/rawblock/botwall-engine/internal/detect"
	"github.com/rawblock/botwall-engine/internal/escalate"
	"github.com/rawblock/botwall-engine/internal/hydrate"
	"github.com/rawblock/botwall-engine/internal/pii"
	"github.com/rawblock/botwall-engine/internal/signals"
	"github.com/rawblock/botwall-engine/internal/signature"
	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Engine
//
// The per-request coordinator: hydrate → orchestrate → aggregate →
// record signature → escalate → resolve policy → dispatch. One Engine
// serves all requests; each request gets its own sink and vault entry.
//
// Failure posture: detection must never take the application down. Any
// panic or internal error degrades to an unverdicted evidence (p=0.5,
// band Unknown) and a log-only action. Only caller cancellation
// propagates, and even then PII is cleared first.
// ──────────────────────────────────────────────────────────────────────

// SessionCookie names the cookie used to group requests into sessions
// when the application sets one.
const SessionCookie = "botwall_session"

// Config carries the engine-level knobs.
type Config struct {
	DetectionPolicy string // Detection policy applied to inspected traffic; "" = all detectors
	Orchestrator    detect.OrchestratorConfig
	SignalCapacity  int
	SignalMaxAge    time.Duration
	Saturation      float64
	TopReasons      int
}

// Engine runs the detection pipeline against live requests.
type Engine struct {
	cfg        Config
	detectors  *detect.Registry
	actions    *action.Registry
	dispatcher *action.Dispatcher
	orch       *detect.Orchestrator
	agg        *detect.Aggregator
	vault      *pii.Vault
	signatures *signature.Coordinator
	escalator  *escalate.Escalator
	telemetry  *escalate.Telemetry
}

// New wires an engine from its collaborators. signatures and escalator
// may be shared with the ops API; telemetry may be nil.
func New(cfg Config, detectors *detect.Registry, actions *action.Registry, signatures *signature.Coordinator, escalator *escalate.Escalator, telemetry *escalate.Telemetry) *Engine {
	agg := detect.NewAggregator(cfg.Saturation, cfg.TopReasons)
	return &Engine{
		cfg:        cfg,
		detectors:  detectors,
		actions:    actions,
		dispatcher: action.NewDispatcher(),
		orch:       detect.NewOrchestrator(detectors, agg, cfg.Orchestrator),
		agg:        agg,
		vault:      pii.NewVault(),
		signatures: signatures,
		escalator:  escalator,
		telemetry:  telemetry,
	}
}

// Vault exposes the engine's PII vault for key derivation by collaborators.
func (e *Engine) Vault() *pii.Vault { return e.vault }

// SignatureKeyFor derives the coordinator key the way the engine does,
// for detectors that need to look up rolling state.
func (e *Engine) SignatureKeyFor(clientIP, userAgent string) string {
	return signature.Key(clientIP, e.vault.ShortDigest(userAgent))
}

// Outcome is everything a caller needs after inspection: the verdict,
// what was done to the response, and the downstream context handoff.
type Outcome struct {
	Evidence     models.AggregatedEvidence
	Result       models.ActionResult
	Items        map[string]any
	SignatureKey string
	PolicyName   string
}

// Inspect runs the full pipeline for one request, applying the resolved
// action to w. The returned error is non-nil only for caller
// cancellation; every other failure degrades to a log-only outcome.
func (e *Engine) Inspect(ctx context.Context, w http.ResponseWriter, r *http.Request) (Outcome, error) {
	start := time.Now()
	requestID := uuid.NewString()
	defer e.vault.Clear(requestID)

	ev, sigKey, sink, runErr := e.detectSafe(ctx, r, requestID)
	processingMs := float64(time.Since(start).Microseconds()) / 1000
	ev.ProcessingTimeMs = processingMs

	if runErr != nil {
		// Caller cancellation: emit the trail and re-surface.
		e.publish(ev, sigKey, r, "", sink)
		return Outcome{Evidence: ev, SignatureKey: sigKey}, runErr
	}

	if e.signatures != nil && sigKey != "" {
		e.signatures.Record(sigKey, ev, signature.RequestMetadata{
			Path:             r.URL.Path,
			ProcessingTimeMs: processingMs,
		})
	}

	policy := e.resolvePolicy(ev)
	items := make(map[string]any)
	res, err := e.dispatcher.Dispatch(ctx, w, r, policy, ev, sigKey, items)
	if err != nil {
		e.publish(ev, sigKey, r, policy.Name, sink)
		return Outcome{Evidence: ev, Result: res, Items: items, SignatureKey: sigKey, PolicyName: policy.Name}, err
	}

	e.publish(ev, sigKey, r, policy.Name, sink)
	if e.telemetry != nil {
		e.telemetry.ObserveProcessingTime(processingMs)
	}

	return Outcome{
		Evidence:     ev,
		Result:       res,
		Items:        items,
		SignatureKey: sigKey,
		PolicyName:   policy.Name,
	}, nil
}

// detectSafe runs hydration, orchestration and aggregation under panic
// isolation. A panic anywhere inside detection yields an unverdicted
// evidence instead of a crash.
func (e *Engine) detectSafe(ctx context.Context, r *http.Request, requestID string) (ev models.AggregatedEvidence, sigKey string, sink *signals.Sink, runErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Engine] Detection panicked for %s: %v", requestID, rec)
			ev = models.Unverdicted(requestID, "internal detection failure")
			runErr = nil
		}
	}()

	sink = signals.NewSink(e.cfg.SignalCapacity, e.cfg.SignalMaxAge)
	sessionID := requestID
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		sessionID = c.Value
	}

	hydrate.Hydrate(r, sink, e.vault, requestID, sessionID)
	if data := e.vault.Get(requestID); data != nil {
		sigKey = signature.Key(data.ClientIP, e.vault.ShortDigest(data.UserAgent))
	}

	ledger, err := e.orch.Run(ctx, sink, e.vault, requestID, sessionID, e.cfg.DetectionPolicy)
	if err != nil {
		return models.Unverdicted(requestID, "pipeline cancelled"), sigKey, sink, err
	}

	return e.agg.Aggregate(requestID, ledger, 0, sink.Merged()), sigKey, sink, nil
}

// resolvePolicy maps the verdict's risk band to an action policy through
// the active detection policy, defaulting to observation when nothing is
// mapped. Verified human verdicts are never actioned.
func (e *Engine) resolvePolicy(ev models.AggregatedEvidence) models.ActionPolicyConfig {
	if ev.RiskBand == models.BandVerified && !ev.IsBot {
		return e.actions.GetOrDefault("logonly", models.ActionLogOnly)
	}

	mapped := ""
	if dp, ok := e.detectors.Policy(e.cfg.DetectionPolicy); ok && dp.Enabled {
		mapped = dp.ActionMapping[string(ev.RiskBand)]
	}
	return e.actions.GetOrDefault(mapped, models.ActionLogOnly)
}

func (e *Engine) publish(ev models.AggregatedEvidence, sigKey string, r *http.Request, policyName string, sink *signals.Sink) {
	if e.escalator == nil {
		return
	}
	e.escalator.Publish(escalate.Event{Request: e.requestSignal(ev, sigKey, r, policyName, sink)})
}

func (e *Engine) requestSignal(ev models.AggregatedEvidence, sigKey string, r *http.Request, policyName string, sink *signals.Sink) models.RequestCompleteSignal {
	sig := models.RequestCompleteSignal{
		Signature:      sigKey,
		RequestID:      ev.RequestID,
		Timestamp:      time.Now().UTC(),
		Risk:           ev.BotProbability,
		RiskBand:       ev.RiskBand,
		Path:           r.URL.Path,
		Method:         r.Method,
		Action:         policyName,
		TriggerSignals: ev.Signals,
	}
	if sink != nil {
		sig.Honeypot = sink.Has("ip.verified_bad")
		sig.Datacenter = sink.Has("ip.is_datacenter")
	}
	return sig
}

// RecordOperation publishes the response-side extension of the request
// signal once the downstream handler has written its response.
func (e *Engine) RecordOperation(out Outcome, r *http.Request, statusCode int, responseBytes int64) {
	if e.escalator == nil {
		return
	}
	responseScore := scoreResponse(statusCode, responseBytes)
	op := &models.OperationCompleteSignal{
		RequestCompleteSignal: e.requestSignal(out.Evidence, out.SignatureKey, r, out.PolicyName, nil),
		StatusCode:            statusCode,
		ResponseBytes:         responseBytes,
		ResponseScore:         responseScore,
		CombinedScore:         0.5*out.Evidence.BotProbability + 0.5*responseScore,
	}
	e.escalator.Publish(escalate.Event{Request: op.RequestCompleteSignal, Operation: op})
}

// scoreResponse is the coarse response-side risk read: repeated 4xx is
// probing behavior, an empty 200 often means a scraper hit a soft wall.
func scoreResponse(statusCode int, responseBytes int64) float64 {
	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		return 0.7
	case statusCode == http.StatusTooManyRequests:
		return 0.8
	case statusCode >= 200 && statusCode < 300 && responseBytes == 0:
		return 0.6
	default:
		return 0.3
	}
}
