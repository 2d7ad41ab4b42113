package detect

import (
	"context"
	"sync"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Honeypot Reputation Detector
//
// Queries an external reputation source (Project Honeypot style DNSBL)
// for the client address. A threat score at or above the configured
// threshold is a VerifiedBadBot early exit.
//
// Lookups are cached in-process with one TTL for both positive and
// negative answers — a deliberate single caching strategy: reputation
// data moves slowly in both directions, and a split strategy doubles the
// invalidation surface for no measurable gain.
//
// The detector is optional: a slow or failing DNSBL must never stall or
// fail the pipeline.
// ──────────────────────────────────────────────────────────────────────

const honeypotName = "honeypot"

// Reputation is an external threat-intelligence answer for one address.
type Reputation struct {
	Listed      bool
	ThreatScore int    // 0 (clean) to 255 (worst), DNSBL convention
	VisitorType string // "Harvester", "CommentSpammer", "Suspicious", ...
}

// ReputationClient is the injected reputation source.
type ReputationClient interface {
	Lookup(ctx context.Context, ip string) (Reputation, error)
}

// HoneypotConfig parametrises the reputation detector.
type HoneypotConfig struct {
	Client          ReputationClient
	ThreatThreshold int           // Early-exit threshold, default 50
	CacheTTL        time.Duration // Default 10 minutes
	SuspectDelta    float64       // Contribution for listed-but-below-threshold, default 0.5
}

type reputationCacheEntry struct {
	rep     Reputation
	expires time.Time
}

// NewHoneypot builds the reputation detector.
func NewHoneypot(cfg HoneypotConfig) *Detector {
	if cfg.ThreatThreshold <= 0 {
		cfg.ThreatThreshold = 50
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.SuspectDelta <= 0 {
		cfg.SuspectDelta = 0.5
	}

	var mu sync.Mutex
	cache := make(map[string]reputationCacheEntry)

	lookup := func(ctx context.Context, ip string) (Reputation, error) {
		mu.Lock()
		if e, ok := cache[ip]; ok && time.Now().Before(e.expires) {
			mu.Unlock()
			return e.rep, nil
		}
		mu.Unlock()

		rep, err := cfg.Client.Lookup(ctx, ip)
		if err != nil {
			return Reputation{}, err
		}

		mu.Lock()
		cache[ip] = reputationCacheEntry{rep: rep, expires: time.Now().Add(cfg.CacheTTL)}
		mu.Unlock()
		return rep, nil
	}

	return &Detector{
		Name:            honeypotName,
		Category:        "Reputation",
		Priority:        40,
		Timeout:         250 * time.Millisecond,
		Enabled:         true,
		Optional:        true,
		AccessesPII:     true,
		RequiredSignals: []string{"ip.present"},
		Detect: func(ctx context.Context, req *Request) ([]models.Contribution, error) {
			data := req.PII()
			if data == nil || data.ClientIP == "" || cfg.Client == nil {
				return nil, nil
			}

			rep, err := lookup(ctx, data.ClientIP)
			if err != nil {
				return nil, err
			}
			if !rep.Listed {
				return nil, nil
			}

			if rep.ThreatScore >= cfg.ThreatThreshold {
				req.Sink.RaiseValue("ip.verified_bad", req.SessionID, rep.ThreatScore)
				c := contribution(honeypotName, "Reputation", 1.0, 2.0, "Reputation source lists address above threat threshold")
				c.EarlyExit = models.ExitVerifiedBadBot
				c.BotType = rep.VisitorType
				return []models.Contribution{c}, nil
			}

			req.Sink.RaiseValue("ip.reputation_listed", req.SessionID, rep.ThreatScore)
			c := contribution(honeypotName, "Reputation", cfg.SuspectDelta, 1.0, "Reputation source lists address below threat threshold")
			c.BotType = rep.VisitorType
			return []models.Contribution{c}, nil
		},
	}
}
