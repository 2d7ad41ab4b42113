package detect

import (
	"context"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// IP Allowlist
//
// Operator-pinned trusted ranges (health checkers, internal tooling,
// partners). A hit is a Whitelisted early exit: the pipeline stops and
// the verdict is verified-human regardless of anything else.
// ──────────────────────────────────────────────────────────────────────

const allowlistName = "ip_allowlist"

// NewIPAllowlist builds the trusted-range detector. Runs earliest of all
// detectors so a hit costs almost nothing.
func NewIPAllowlist(ranges *CIDRSet) *Detector {
	return &Detector{
		Name:            allowlistName,
		Category:        "Network",
		Priority:        1,
		Timeout:         10 * time.Millisecond,
		Enabled:         true,
		Optional:        false,
		AccessesPII:     true,
		RequiredSignals: []string{"ip.present"},
		Detect: func(ctx context.Context, req *Request) ([]models.Contribution, error) {
			data := req.PII()
			if data == nil || ranges == nil || !ranges.Contains(data.ClientIP) {
				return nil, nil
			}
			req.Sink.Raise("ip.allowlisted", req.SessionID)
			c := contribution(allowlistName, "Network", -1.0, 2.0, "Client address in operator allowlist")
			c.EarlyExit = models.ExitWhitelisted
			return []models.Contribution{c}, nil
		},
	}
}

// NewIPBlocklist is the mirror image: operator-pinned hostile ranges, a
// hit is a Blacklisted early exit.
func NewIPBlocklist(ranges *CIDRSet) *Detector {
	return &Detector{
		Name:            "ip_blocklist",
		Category:        "Network",
		Priority:        2,
		Timeout:         10 * time.Millisecond,
		Enabled:         true,
		Optional:        false,
		AccessesPII:     true,
		RequiredSignals: []string{"ip.present"},
		Detect: func(ctx context.Context, req *Request) ([]models.Contribution, error) {
			data := req.PII()
			if data == nil || ranges == nil || !ranges.Contains(data.ClientIP) {
				return nil, nil
			}
			req.Sink.Raise("ip.blocklisted", req.SessionID)
			c := contribution("ip_blocklist", "Network", 1.0, 2.0, "Client address in operator blocklist")
			c.EarlyExit = models.ExitBlacklisted
			return []models.Contribution{c}, nil
		},
	}
}
