package detect

import (
	"context"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Tool-on-Datacenter Correlator
//
// A second-wave compound detector: it requires ip.is_datacenter, which
// only the IP analyzer raises, so it always runs in a later wave than
// the classification detectors. The combination "programmatic client on
// rented infrastructure" is stronger evidence than either signal alone —
// a developer on a laptop uses curl from a residential line; a scraping
// fleet uses curl from EC2.
// ──────────────────────────────────────────────────────────────────────

const toolCorrelatorName = "tool_correlator"

// NewToolCorrelator builds the compound datacenter/tooling detector.
func NewToolCorrelator() *Detector {
	return &Detector{
		Name:            toolCorrelatorName,
		Category:        "Behavior",
		Priority:        50,
		Timeout:         10 * time.Millisecond,
		Enabled:         true,
		Optional:        false,
		RequiredSignals: []string{"ip.is_datacenter"},
		Detect:          detectToolOnDatacenter,
	}
}

func detectToolOnDatacenter(ctx context.Context, req *Request) ([]models.Contribution, error) {
	sink := req.Sink

	automated := sink.Has("ua.is_cli_tool") || sink.Has("ua.is_http_library") || sink.Has("ua.empty")
	if !automated {
		return nil, nil
	}

	c := contribution(toolCorrelatorName, "Behavior", 0.6, 1.2, "Programmatic client on datacenter infrastructure")
	c.BotType = "automation"
	return []models.Contribution{c}, nil
}
