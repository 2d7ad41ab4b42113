package detect

import (
	"context"
	"strings"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Good Bot Verifier
//
// Search-engine crawlers are welcome — as long as they are who they say
// they are. The claimed identity comes from the UA; the proof comes from
// reverse DNS: Googlebot requests resolve under googlebot.com/google.com,
// Bingbot under search.msn.com, and so on.
//
//   UA claim + rDNS match    → VerifiedGoodBot early exit
//   UA claim + rDNS mismatch → impersonation, strong bot evidence
//
// Only runs when the hydrator saw a bot keyword, so the rDNS round trip
// is never spent on ordinary traffic.
// ──────────────────────────────────────────────────────────────────────

const goodBotName = "goodbot_verifier"

// ReverseDNS resolves an address to its PTR hostname.
type ReverseDNS func(ctx context.Context, ip string) (string, error)

// knownCrawlers maps a UA token to the crawler identity and the DNS
// suffixes its addresses legitimately resolve under.
var knownCrawlers = []struct {
	token    string
	name     string
	suffixes []string
}{
	{"googlebot", "Googlebot", []string{".googlebot.com", ".google.com"}},
	{"bingbot", "Bingbot", []string{".search.msn.com"}},
	{"duckduckbot", "DuckDuckBot", []string{".duckduckgo.com"}},
	{"yandexbot", "YandexBot", []string{".yandex.ru", ".yandex.net", ".yandex.com"}},
	{"applebot", "Applebot", []string{".applebot.apple.com"}},
	{"baiduspider", "Baiduspider", []string{".baidu.com", ".baidu.jp"}},
}

// NewGoodBotVerifier builds the search-engine verification detector.
func NewGoodBotVerifier(resolve ReverseDNS) *Detector {
	return &Detector{
		Name:            goodBotName,
		Category:        "Reputation",
		Priority:        15,
		Timeout:         250 * time.Millisecond,
		Enabled:         true,
		Optional:        false,
		AccessesPII:     true,
		RequiredSignals: []string{"ua.contains_bot_keyword"},
		Detect: func(ctx context.Context, req *Request) ([]models.Contribution, error) {
			return verifyGoodBot(ctx, req, resolve)
		},
	}
}

func verifyGoodBot(ctx context.Context, req *Request, resolve ReverseDNS) ([]models.Contribution, error) {
	data := req.PII()
	if data == nil || data.UserAgent == "" {
		return nil, nil
	}

	lower := strings.ToLower(data.UserAgent)
	for _, crawler := range knownCrawlers {
		if !strings.Contains(lower, crawler.token) {
			continue
		}

		if resolve == nil || data.ClientIP == "" {
			// Cannot verify; the bare claim is worth nothing either way.
			return nil, nil
		}

		host, err := resolve(ctx, data.ClientIP)
		if err != nil {
			return nil, err
		}
		host = strings.ToLower(strings.TrimSuffix(host, "."))

		for _, suffix := range crawler.suffixes {
			if strings.HasSuffix(host, suffix) {
				req.Sink.RaiseValue("bot.verified_good", req.SessionID, crawler.name)
				c := contribution(goodBotName, "Reputation", -1.0, 2.0, "Reverse DNS confirms claimed crawler identity")
				c.EarlyExit = models.ExitVerifiedGoodBot
				c.BotType = "search-engine"
				c.BotName = crawler.name
				return []models.Contribution{c}, nil
			}
		}

		// Claimed a famous crawler, resolves somewhere else entirely.
		req.Sink.Raise("bot.impersonation", req.SessionID)
		c := contribution(goodBotName, "Reputation", 0.8, 1.5, "UA claims "+crawler.name+" but reverse DNS does not match")
		c.BotType = "impersonator"
		c.BotName = crawler.name
		return []models.Contribution{c}, nil
	}

	return nil, nil
}
