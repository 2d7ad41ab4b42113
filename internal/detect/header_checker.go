package detect

import (
	"context"
	"strconv"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Header Consistency Checker
//
// Real browsers ship a stable constellation of headers. A UA that claims
// a browser family while the constellation is missing is bot evidence; a
// complete, consistent constellation is human evidence. Non-browser UAs
// are out of scope here — the UA analyzer already scored those.
// ──────────────────────────────────────────────────────────────────────

const headerCheckerName = "header_checker"

// browserHeaderSignals are the presence markers every mainstream browser
// emits on a navigation request.
var browserHeaderSignals = []string{
	"header.accept.present",
	"header.accept_language.present",
	"header.accept_encoding.present",
}

// NewHeaderChecker builds the header constellation detector.
func NewHeaderChecker() *Detector {
	return &Detector{
		Name:            headerCheckerName,
		Category:        "Headers",
		Priority:        20,
		Timeout:         20 * time.Millisecond,
		Enabled:         true,
		Optional:        false,
		RequiredSignals: []string{"hydration.complete"},
		Detect:          detectHeaderConsistency,
	}
}

func detectHeaderConsistency(ctx context.Context, req *Request) ([]models.Contribution, error) {
	sink := req.Sink

	claimsBrowser := sink.Has("ua.browser")

	missing := 0
	for _, sig := range browserHeaderSignals {
		if !sink.Has(sig) {
			missing++
		}
	}

	var out []models.Contribution
	switch {
	case claimsBrowser && missing > 0:
		// Claims Chrome/Firefox/... but the header constellation is
		// incomplete. Each missing core header compounds the evidence.
		delta := 0.3 + 0.2*float64(missing)
		if delta > 0.9 {
			delta = 0.9
		}
		c := contribution(headerCheckerName, "Headers", delta, 1.3, "Browser UA with missing standard browser headers")
		c.BotType = "impersonator"
		c.Signals = map[string]string{"headers.missing_count": strconv.Itoa(missing)}
		sink.RaiseValue("headers.browser_mismatch", req.SessionID, missing)
		out = append(out, c)

	case claimsBrowser && missing == 0:
		human := -0.4
		weight := 1.0
		if sink.Has("header.sec_fetch.present") || sink.Has("header.client_hints.present") {
			// Fetch-metadata / client-hints headers are rarely faked.
			human = -0.6
			weight = 1.3
		}
		out = append(out, contribution(headerCheckerName, "Headers", human, weight, "Consistent browser header constellation"))

	case !claimsBrowser && missing == len(browserHeaderSignals):
		// No browser claim and a bare header set: weak corroboration of
		// an automated client, the UA analyzer carries the main signal.
		out = append(out, contribution(headerCheckerName, "Headers", 0.3, 0.7, "Bare header set"))
	}

	return out, nil
}
