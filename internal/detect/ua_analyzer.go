package detect

import (
	"context"
	"strings"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// User Agent Analyzer
//
// Scores the hydrator's UA classification signals. CLI tools and HTTP
// library defaults are strong bot evidence; a self-identifying bot token
// is moderate evidence (verification is the good-bot verifier's job); a
// plausible browser claim is mild human evidence that the header checker
// will corroborate or contradict.
// ──────────────────────────────────────────────────────────────────────

const uaAnalyzerName = "ua_analyzer"

// NewUAAnalyzer builds the UA classification detector. It reads the raw
// UA from the vault only to name the tool in the contribution, never to
// re-emit it.
func NewUAAnalyzer() *Detector {
	return &Detector{
		Name:            uaAnalyzerName,
		Category:        "UserAgent",
		Priority:        10,
		Timeout:         20 * time.Millisecond,
		Enabled:         true,
		Optional:        false,
		AccessesPII:     true,
		RequiredSignals: []string{"hydration.complete"},
		Detect:          detectUserAgent,
	}
}

func detectUserAgent(ctx context.Context, req *Request) ([]models.Contribution, error) {
	var out []models.Contribution
	sink := req.Sink

	if sink.Has("ua.empty") {
		out = append(out, contribution(uaAnalyzerName, "UserAgent", 0.6, 1.0, "Empty user agent"))
		return out, nil
	}

	if sink.Has("ua.is_cli_tool") {
		c := contribution(uaAnalyzerName, "UserAgent", 0.7, 1.2, "Command-line HTTP client")
		c.BotType = "cli-tool"
		c.BotName = toolName(req)
		out = append(out, c)
	}

	if sink.Has("ua.is_http_library") {
		c := contribution(uaAnalyzerName, "UserAgent", 0.65, 1.2, "Programmatic HTTP library default UA")
		c.BotType = "http-library"
		c.BotName = toolName(req)
		out = append(out, c)
	}

	if sink.Has("ua.contains_bot_keyword") {
		c := contribution(uaAnalyzerName, "UserAgent", 0.5, 1.0, "Self-identified bot keyword in UA")
		c.BotType = "crawler"
		out = append(out, c)
	}

	if sink.Has("ua.browser") && len(out) == 0 {
		// A browser claim with no tool markers is mild human evidence;
		// header consistency decides how much it is worth.
		if e, ok := sink.First("ua.length"); ok && e.Int() >= 40 {
			out = append(out, contribution(uaAnalyzerName, "UserAgent", -0.4, 1.0, "Plausible browser user agent"))
		} else {
			out = append(out, contribution(uaAnalyzerName, "UserAgent", 0.2, 0.6, "Suspiciously short browser UA"))
		}
	}

	return out, nil
}

// toolName extracts the leading product token ("curl/8.0.1" → "curl")
// from the vaulted UA for the contribution's bot name.
func toolName(req *Request) string {
	data := req.PII()
	if data == nil || data.UserAgent == "" {
		return ""
	}
	token := data.UserAgent
	if i := strings.IndexAny(token, "/ ("); i > 0 {
		token = token[:i]
	}
	return strings.ToLower(token)
}
