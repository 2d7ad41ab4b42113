package detect

import (
	"math"
	"testing"

	"github.com/rawblock/botwall-engine/pkg/models"
)

func ledgerWith(contribs ...models.Contribution) *Ledger {
	l := NewLedger()
	for _, c := range contribs {
		l.AddContributions(c.DetectorName, []models.Contribution{c})
	}
	return l
}

func TestAggregateDeterminism(t *testing.T) {
	// Two calls over the same contribution list must produce identical
	// probability, confidence, band and top-reasons ordering.
	contribs := []models.Contribution{
		{DetectorName: "a", Category: "UserAgent", ConfidenceDelta: 0.7, Weight: 1.2, Reason: "cli"},
		{DetectorName: "b", Category: "Network", ConfidenceDelta: 0.6, Weight: 1.5, Reason: "dc"},
		{DetectorName: "c", Category: "Headers", ConfidenceDelta: -0.4, Weight: 1.0, Reason: "ok headers"},
	}
	agg := NewAggregator(0, 0)

	ev1 := agg.Aggregate("r1", ledgerWith(contribs...), 1.0, nil)
	ev2 := agg.Aggregate("r1", ledgerWith(contribs...), 1.0, nil)

	if ev1.BotProbability != ev2.BotProbability || ev1.Confidence != ev2.Confidence || ev1.RiskBand != ev2.RiskBand {
		t.Fatalf("Aggregation is not deterministic: %+v vs %+v", ev1, ev2)
	}
	for i := range ev1.TopReasons {
		if ev1.TopReasons[i].DetectorName != ev2.TopReasons[i].DetectorName {
			t.Errorf("Top reasons ordering differs at %d", i)
		}
	}
}

func TestAggregateMonotonicFusion(t *testing.T) {
	agg := NewAggregator(0, 0)
	base := []models.Contribution{
		{DetectorName: "a", Category: "X", ConfidenceDelta: 0.3, Weight: 1.0},
	}

	p0 := agg.FuseProbability(base)

	withBot := append(append([]models.Contribution(nil), base...),
		models.Contribution{DetectorName: "b", Category: "X", ConfidenceDelta: 0.5, Weight: 1.0})
	if agg.FuseProbability(withBot) < p0 {
		t.Errorf("Adding bot evidence must never decrease probability")
	}

	withHuman := append(append([]models.Contribution(nil), base...),
		models.Contribution{DetectorName: "c", Category: "X", ConfidenceDelta: -0.5, Weight: 1.0})
	if agg.FuseProbability(withHuman) > p0 {
		t.Errorf("Adding human evidence must never increase probability")
	}
}

func TestAggregateEarlyExitDominance(t *testing.T) {
	agg := NewAggregator(0, 0)
	l := ledgerWith(
		models.Contribution{DetectorName: "human1", Category: "X", ConfidenceDelta: -1.0, Weight: 5.0},
		models.Contribution{DetectorName: "hp", Category: "Reputation", ConfidenceDelta: 1.0, Weight: 2.0, EarlyExit: models.ExitVerifiedBadBot},
		models.Contribution{DetectorName: "human2", Category: "X", ConfidenceDelta: -1.0, Weight: 5.0},
	)

	ev := agg.Aggregate("r1", l, 1.0, nil)
	if ev.BotProbability != 1.0 {
		t.Errorf("VerifiedBadBot must force probability 1.0, got %v", ev.BotProbability)
	}
	if ev.RiskBand != models.BandVerified {
		t.Errorf("VerifiedBadBot must force band Verified, got %v", ev.RiskBand)
	}
	if !ev.IsBot {
		t.Errorf("VerifiedBadBot must classify as bot")
	}
}

func TestAggregateGoodBotOverride(t *testing.T) {
	agg := NewAggregator(0, 0)
	l := ledgerWith(models.Contribution{
		DetectorName: "goodbot", Category: "Reputation",
		ConfidenceDelta: -1.0, Weight: 2.0, EarlyExit: models.ExitVerifiedGoodBot,
	})

	ev := agg.Aggregate("r1", l, 1.0, nil)
	if ev.BotProbability != 0.0 || ev.RiskBand != models.BandVerified || ev.IsBot {
		t.Errorf("VerifiedGoodBot must force probability 0, band Verified, human: %+v", ev)
	}
}

func TestAggregateEmptyLedger(t *testing.T) {
	agg := NewAggregator(0, 0)
	ev := agg.Aggregate("r1", NewLedger(), 0.5, nil)
	if ev.BotProbability != 0.5 {
		t.Errorf("No contributions must yield probability 0.5, got %v", ev.BotProbability)
	}
	if ev.Confidence != 0 {
		t.Errorf("No contributions must yield confidence 0, got %v", ev.Confidence)
	}
}

func TestRiskBandThresholds(t *testing.T) {
	tests := []struct {
		p    float64
		want models.RiskBand
	}{
		{0.0, models.BandVeryLow},
		{0.19, models.BandVeryLow},
		{0.20, models.BandLow},
		{0.40, models.BandElevated},
		{0.60, models.BandMedium},
		{0.80, models.BandHigh},
		{0.94, models.BandHigh},
		{0.95, models.BandVeryHigh},
		{1.0, models.BandVeryHigh},
	}
	for _, tt := range tests {
		if got := models.BandForProbability(tt.p); got != tt.want {
			t.Errorf("BandForProbability(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestSigmoidShape(t *testing.T) {
	if Sigmoid(0) != 0.5 {
		t.Errorf("Sigmoid(0) must be 0.5")
	}
	if Sigmoid(10) < 0.99 || Sigmoid(-10) > 0.01 {
		t.Errorf("Sigmoid tails wrong: %v, %v", Sigmoid(10), Sigmoid(-10))
	}
}

func TestConfidenceSaturation(t *testing.T) {
	agg := NewAggregator(2.0, 3)
	contribs := []models.Contribution{
		{DetectorName: "a", Category: "X", ConfidenceDelta: 1.0, Weight: 1.0},
	}
	if got := agg.FuseConfidence(contribs); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.5 (mass 1.0 over saturation 2.0)", got)
	}

	heavy := []models.Contribution{
		{DetectorName: "a", Category: "X", ConfidenceDelta: 1.0, Weight: 5.0},
	}
	if got := agg.FuseConfidence(heavy); got != 1.0 {
		t.Errorf("Confidence must cap at 1.0, got %v", got)
	}
}

func TestBotNameElection(t *testing.T) {
	agg := NewAggregator(0, 0)
	l := ledgerWith(
		models.Contribution{DetectorName: "weak", Category: "A", ConfidenceDelta: 0.3, Weight: 1.0, BotType: "crawler", BotName: "weakbot"},
		models.Contribution{DetectorName: "strong", Category: "B", ConfidenceDelta: 0.9, Weight: 2.0, BotType: "scanner", BotName: "strongbot"},
		models.Contribution{DetectorName: "anon", Category: "C", ConfidenceDelta: 1.0, Weight: 3.0}, // No name, skipped
	)

	ev := agg.Aggregate("r1", l, 1.0, nil)
	if ev.PrimaryBotName != "strongbot" || ev.PrimaryBotType != "scanner" {
		t.Errorf("Expected highest-scoring named contribution to win, got %s/%s", ev.PrimaryBotName, ev.PrimaryBotType)
	}
}

func TestBotNameTieBreak(t *testing.T) {
	// Equal scores: category, then detector name, lexicographically.
	agg := NewAggregator(0, 0)
	l := ledgerWith(
		models.Contribution{DetectorName: "zeta", Category: "Network", ConfidenceDelta: 0.5, Weight: 1.0, BotName: "nb"},
		models.Contribution{DetectorName: "alpha", Category: "Network", ConfidenceDelta: 0.5, Weight: 1.0, BotName: "ab"},
	)
	ev := agg.Aggregate("r1", l, 1.0, nil)
	if ev.PrimaryBotName != "ab" {
		t.Errorf("Tie must break by detector name, got %s", ev.PrimaryBotName)
	}
}

func TestTopReasonsCount(t *testing.T) {
	agg := NewAggregator(0, 2)
	l := ledgerWith(
		models.Contribution{DetectorName: "a", Category: "X", ConfidenceDelta: 0.9, Weight: 1.0},
		models.Contribution{DetectorName: "b", Category: "X", ConfidenceDelta: 0.5, Weight: 1.0},
		models.Contribution{DetectorName: "c", Category: "X", ConfidenceDelta: 0.1, Weight: 1.0},
	)
	ev := agg.Aggregate("r1", l, 1.0, nil)
	if len(ev.TopReasons) != 2 {
		t.Fatalf("Expected 2 top reasons, got %d", len(ev.TopReasons))
	}
	if ev.TopReasons[0].DetectorName != "a" || ev.TopReasons[1].DetectorName != "b" {
		t.Errorf("Top reasons must rank by evidence mass")
	}
}

func TestCategoryBreakdown(t *testing.T) {
	agg := NewAggregator(0, 0)
	l := ledgerWith(
		models.Contribution{DetectorName: "a", Category: "Network", ConfidenceDelta: 0.6, Weight: 1.5},
		models.Contribution{DetectorName: "b", Category: "Network", ConfidenceDelta: -0.2, Weight: 0.5},
		models.Contribution{DetectorName: "c", Category: "Headers", ConfidenceDelta: 0.4, Weight: 1.0},
	)
	ev := agg.Aggregate("r1", l, 1.0, nil)

	net := ev.CategoryBreakdown["Network"]
	if math.Abs(net.Score-(0.6*1.5-0.2*0.5)) > 1e-9 {
		t.Errorf("Network score = %v", net.Score)
	}
	if math.Abs(net.Weight-2.0) > 1e-9 {
		t.Errorf("Network weight = %v", net.Weight)
	}
}

func TestZeroWeightFiltered(t *testing.T) {
	agg := NewAggregator(0, 0)
	l := ledgerWith(
		models.Contribution{DetectorName: "a", Category: "X", ConfidenceDelta: 1.0, Weight: 0},
	)
	ev := agg.Aggregate("r1", l, 1.0, nil)
	if ev.BotProbability != 0.5 || ev.Confidence != 0 {
		t.Errorf("Zero-weight contributions must be filtered before fusion: %+v", ev)
	}
}

func TestReplayedVerdictEquality(t *testing.T) {
	// A verdict computed over a replayed recorded contribution set equals
	// the original verdict.
	agg := NewAggregator(0, 0)
	contribs := []models.Contribution{
		{DetectorName: "ua_analyzer", Category: "UserAgent", ConfidenceDelta: 0.7, Weight: 1.2},
		{DetectorName: "ip_analyzer", Category: "Network", ConfidenceDelta: 0.6, Weight: 1.5},
	}
	orig := agg.Aggregate("r1", ledgerWith(contribs...), 1.0, map[string]string{"ua.is_cli_tool": "true"})
	replay := agg.Aggregate("r1", ledgerWith(contribs...), 1.0, map[string]string{"ua.is_cli_tool": "true"})

	if orig.BotProbability != replay.BotProbability || orig.RiskBand != replay.RiskBand ||
		orig.Confidence != replay.Confidence || orig.IsBot != replay.IsBot {
		t.Errorf("Replay verdict differs: %+v vs %+v", orig, replay)
	}
}
