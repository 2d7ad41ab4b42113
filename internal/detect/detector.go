package detect

import (
	"context"
	"time"

	"github.com/rawblock/botwall-engine/internal/pii"
	"github.com/rawblock/botwall-engine/internal/signals"
	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Detector Contract
//
// A detector is a plain value: metadata plus a Detect closure. No
// hierarchies — composition happens by constructing values, and the
// orchestrator only ever sees this one shape.
//
// Eligibility: a detector runs once every pattern in RequiredSignals
// matches at least one signal in the sink. An empty list means wave 0.
//
// PII: the vault handle is passed only to detectors that declare
// AccessesPII. Everyone else sees a nil PII record.
// ──────────────────────────────────────────────────────────────────────

// DetectFunc produces evidence contributions for one request. It must
// observe ctx at I/O suspension points and may publish diagnostic signals
// through req.Sink. Errors are recorded as detector failures by the
// orchestrator and never propagate further.
type DetectFunc func(ctx context.Context, req *Request) ([]models.Contribution, error)

// Detector is the pluggable unit of evidence.
type Detector struct {
	Name            string
	Category        string
	Priority        int
	Timeout         time.Duration
	Enabled         bool
	Optional        bool
	AccessesPII     bool
	RequiredSignals []string
	Detect          DetectFunc
}

// Request is the per-request view handed to a detector.
type Request struct {
	RequestID string
	SessionID string
	Sink      *signals.Sink

	piiData *pii.Data
	digest  func(string) string
}

// PII returns the raw identifying record, or nil for detectors that did
// not declare AccessesPII.
func (r *Request) PII() *pii.Data { return r.piiData }

// Digest produces the keyed one-way digest of a raw value — the only form
// in which vault contents may be raised as signals or reasons.
func (r *Request) Digest(value string) string {
	if r.digest == nil {
		return ""
	}
	return r.digest(value)
}

// contribution is a small builder used by the built-in detectors to keep
// their emission sites compact.
func contribution(name, category string, delta, weight float64, reason string) models.Contribution {
	return models.Contribution{
		DetectorName:    name,
		Category:        category,
		ConfidenceDelta: delta,
		Weight:          weight,
		Reason:          reason,
	}
}
