package detect

import (
	"math"
	"sort"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Evidence Aggregator
//
// Fuses the ledger's contributions into one verdict. The fusion is a
// weighted logit sum squashed through the logistic function — the same
// additive log-odds treatment the rest of the codebase applies to
// independent evidence, with weights standing in for per-detector
// reliability. Early-exit verdicts override the fused probability.
//
// The aggregator is deterministic: ties in bot-name election and
// top-reasons ordering break by category, then detector name.
// ──────────────────────────────────────────────────────────────────────

// DefaultSaturation is the evidence mass at which confidence reaches 1.0.
const DefaultSaturation = 3.0

// DefaultTopReasons bounds the reasons list on the evidence snapshot.
const DefaultTopReasons = 3

// Aggregator fuses contributions into an AggregatedEvidence snapshot.
type Aggregator struct {
	Saturation float64
	TopReasons int
}

// NewAggregator creates an aggregator with the given confidence
// saturation; values <= 0 select the defaults.
func NewAggregator(saturation float64, topReasons int) *Aggregator {
	if saturation <= 0 {
		saturation = DefaultSaturation
	}
	if topReasons <= 0 {
		topReasons = DefaultTopReasons
	}
	return &Aggregator{Saturation: saturation, TopReasons: topReasons}
}

// Sigmoid is the standard logistic squash mapping a weighted logit sum
// onto (0, 1).
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// FuseProbability computes the squashed weighted logit sum over the
// non-zero-weight contributions. No contributions → 0.5 (no opinion).
func (a *Aggregator) FuseProbability(contribs []models.Contribution) float64 {
	x := 0.0
	n := 0
	for _, c := range contribs {
		if c.Weight <= 0 {
			continue
		}
		x += c.ConfidenceDelta * c.Weight
		n++
	}
	if n == 0 {
		return 0.5
	}
	return Sigmoid(x)
}

// FuseConfidence computes the normalised total evidence mass, capped at 1.
// No contributions → 0.
func (a *Aggregator) FuseConfidence(contribs []models.Contribution) float64 {
	mass := 0.0
	n := 0
	for _, c := range contribs {
		if c.Weight <= 0 {
			continue
		}
		mass += math.Abs(c.ConfidenceDelta) * c.Weight
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Min(1.0, mass/a.Saturation)
}

// Aggregate builds the immutable evidence snapshot from a completed (or
// deadline-cut) ledger.
func (a *Aggregator) Aggregate(requestID string, ledger *Ledger, processingMs float64, mergedSignals map[string]string) models.AggregatedEvidence {
	contribs := ledger.Contributions()

	active := contribs[:0:0]
	for _, c := range contribs {
		if c.Weight > 0 {
			active = append(active, c)
		}
	}

	ev := models.AggregatedEvidence{
		RequestID:             requestID,
		BotProbability:        a.FuseProbability(active),
		Confidence:            a.FuseConfidence(active),
		ProcessingTimeMs:      processingMs,
		ContributingDetectors: ledger.Completed(),
		FailedDetectors:       ledger.Failed(),
		Signals:               mergedSignals,
	}

	// Early-exit override dominates the fused result.
	if exit := ledger.EarlyExit(); exit != nil {
		ev.EarlyExit = exit.EarlyExit
		ev.RiskBand = models.BandVerified
		switch {
		case exit.EarlyExit.IsBotVerdict():
			ev.BotProbability = 1.0
			ev.IsBot = true
		case exit.EarlyExit.IsHumanVerdict():
			ev.BotProbability = 0.0
			ev.IsBot = false
		}
		ev.Confidence = 1.0
	} else {
		ev.RiskBand = models.BandForProbability(ev.BotProbability)
		ev.IsBot = ev.BotProbability >= 0.5 && ev.Confidence > 0
	}

	// Bot type/name election: largest evidence mass among contributions
	// that populate the fields; ties by category, then detector name.
	ranked := rankContributions(active)
	for _, c := range ranked {
		if c.BotType != "" || c.BotName != "" {
			ev.PrimaryBotType = c.BotType
			ev.PrimaryBotName = c.BotName
			break
		}
	}

	// Top reasons by the same deterministic ranking.
	n := a.TopReasons
	if n > len(ranked) {
		n = len(ranked)
	}
	ev.TopReasons = append([]models.Contribution(nil), ranked[:n]...)

	// Category breakdown: signed score plus total weight per category.
	if len(active) > 0 {
		ev.CategoryBreakdown = make(map[string]models.CategoryScore)
		for _, c := range active {
			cs := ev.CategoryBreakdown[c.Category]
			cs.Score += c.ConfidenceDelta * c.Weight
			cs.Weight += c.Weight
			ev.CategoryBreakdown[c.Category] = cs
		}
	}

	return ev
}

// rankContributions orders by score descending, ties broken by category
// then detector name lexicographically. Deterministic for any input order.
func rankContributions(contribs []models.Contribution) []models.Contribution {
	ranked := append([]models.Contribution(nil), contribs...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].Score(), ranked[j].Score()
		if si != sj {
			return si > sj
		}
		if ranked[i].Category != ranked[j].Category {
			return ranked[i].Category < ranked[j].Category
		}
		return ranked[i].DetectorName < ranked[j].DetectorName
	})
	return ranked
}
