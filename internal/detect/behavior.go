package detect

import (
	"context"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Cross-Request Behavior Detector
//
// Request cadence reveals what a single request cannot. Humans browse in
// bursts with long gaps; automation holds a steady clip for minutes or
// hours. The detector reads the rolling per-signature state maintained
// by the signature coordinator:
//
//   - sustained request rate well above human browsing speed
//   - path fan-out typical of site-walking crawlers
//
// Only the signature key (digested, no raw PII) leaves this detector.
// ──────────────────────────────────────────────────────────────────────

const behaviorName = "behavior"

// SignatureLookup resolves a signature key to its rolling state. The
// engine wires this to the signature coordinator.
type SignatureLookup func(signatureKey string) (models.SignatureState, bool)

// SignatureKeyFunc derives the signature key from raw identifiers, using
// the same derivation the coordinator uses.
type SignatureKeyFunc func(clientIP, userAgent string) string

// BehaviorConfig parametrises the cadence thresholds.
type BehaviorConfig struct {
	Lookup     SignatureLookup
	KeyFor     SignatureKeyFunc
	MinHits    int64   // Minimum observations before cadence means anything, default 5
	BotRate    float64 // Sustained requests/second considered automated, default 2.0
	FanOutMin  int     // Distinct paths within the window considered crawling, default 25
}

// NewBehaviorDetector builds the cross-request cadence detector.
func NewBehaviorDetector(cfg BehaviorConfig) *Detector {
	if cfg.MinHits <= 0 {
		cfg.MinHits = 5
	}
	if cfg.BotRate <= 0 {
		cfg.BotRate = 2.0
	}
	if cfg.FanOutMin <= 0 {
		cfg.FanOutMin = 25
	}
	return &Detector{
		Name:            behaviorName,
		Category:        "Behavior",
		Priority:        35,
		Timeout:         20 * time.Millisecond,
		Enabled:         true,
		Optional:        true,
		AccessesPII:     true,
		RequiredSignals: []string{"hydration.complete"},
		Detect: func(ctx context.Context, req *Request) ([]models.Contribution, error) {
			return detectCadence(req, cfg)
		},
	}
}

func detectCadence(req *Request, cfg BehaviorConfig) ([]models.Contribution, error) {
	data := req.PII()
	if data == nil || cfg.Lookup == nil || cfg.KeyFor == nil {
		return nil, nil
	}

	state, ok := cfg.Lookup(cfg.KeyFor(data.ClientIP, data.UserAgent))
	if !ok || state.HitCount < cfg.MinHits {
		return nil, nil
	}

	var out []models.Contribution
	req.Sink.RaiseValue("signature.hit_count", req.SessionID, state.HitCount)

	span := state.LastSeen.Sub(state.FirstSeen).Seconds()
	if span > 1 {
		rate := float64(state.HitCount) / span
		if rate >= cfg.BotRate {
			c := contribution(behaviorName, "Behavior", 0.6, 1.3, "Sustained request rate above human browsing speed")
			c.BotType = "automation"
			c.Signals = map[string]string{"signature.key": state.PrimarySignature}
			out = append(out, c)
		} else if rate < 0.1 && state.HitCount >= cfg.MinHits {
			// Slow, irregular revisits look human.
			out = append(out, contribution(behaviorName, "Behavior", -0.2, 0.6, "Human-paced revisit cadence"))
		}
	}

	if len(state.PathCounts) >= cfg.FanOutMin {
		c := contribution(behaviorName, "Behavior", 0.5, 1.0, "Wide path fan-out typical of site crawling")
		c.BotType = "crawler"
		out = append(out, c)
	}

	return out, nil
}
