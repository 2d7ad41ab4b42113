package hydrate

import (
	"net/http"
	"strings"
	"time"

	"github.com/rawblock/botwall-engine/internal/pii"
	"github.com/rawblock/botwall-engine/internal/signals"
)

// ──────────────────────────────────────────────────────────────────────
// Request Hydrator
//
// Converts the raw HTTP request surface (headers, connection, protocol,
// timing) into typed signals in the per-request sink, and parks the raw
// identifying values in the PII vault. Raw PII never appears in a signal
// value — derived facts only (lengths, families, presence markers).
// ──────────────────────────────────────────────────────────────────────

// presenceHeaders maps the canonical header signal suffix to the request
// headers that satisfy it.
var presenceHeaders = []struct {
	signal  string
	headers []string
}{
	{"user_agent", []string{"User-Agent"}},
	{"accept", []string{"Accept"}},
	{"accept_language", []string{"Accept-Language"}},
	{"accept_encoding", []string{"Accept-Encoding"}},
	{"referer", []string{"Referer"}},
	{"cookie", []string{"Cookie"}},
	{"dnt", []string{"DNT"}},
	{"upgrade_insecure", []string{"Upgrade-Insecure-Requests"}},
	{"sec_fetch", []string{"Sec-Fetch-Site", "Sec-Fetch-Mode", "Sec-Fetch-Dest", "Sec-Fetch-User"}},
	{"client_hints", []string{"Sec-CH-UA", "Sec-CH-UA-Mobile", "Sec-CH-UA-Platform"}},
}

// Hydrate reads the request surface and emits the full hydration signal
// namespace, ending with the hydration.complete marker. The raw client IP,
// user agent, accept-language, referer and session ID go into the vault
// keyed by requestID.
func Hydrate(r *http.Request, sink *signals.Sink, vault *pii.Vault, requestID, sessionID string) {
	now := time.Now()

	// ─── Request line ────────────────────────────────────────────────
	sink.RaiseValue("request.method", sessionID, r.Method)
	sink.RaiseValue("request.path", sessionID, r.URL.Path)
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	sink.RaiseValue("request.scheme", sessionID, scheme)
	if r.URL.RawQuery != "" {
		sink.Raise("request.has_query", sessionID)
	}
	sink.RaiseValue("request.header_count", sessionID, len(r.Header))
	sink.RaiseValue("request.timestamp", sessionID, now.UnixMilli())

	// ─── Header presence markers ─────────────────────────────────────
	for _, ph := range presenceHeaders {
		for _, h := range ph.headers {
			if r.Header.Get(h) != "" {
				sink.Raise("header."+ph.signal+".present", sessionID)
				break
			}
		}
	}

	// ─── User agent classification ───────────────────────────────────
	ua := r.Header.Get("User-Agent")
	emitUserAgentSignals(sink, sessionID, ua)

	// ─── Client IP ───────────────────────────────────────────────────
	clientIP := ResolveClientIP(r)
	emitIPSignals(sink, sessionID, clientIP)

	// ─── Protocol ────────────────────────────────────────────────────
	sink.RaiseValue("protocol", sessionID, r.Proto)
	if r.TLS != nil {
		sink.Raise("protocol.is_https", sessionID)
	}

	// ─── PII vault (raw values, never signals) ───────────────────────
	vault.Store(requestID, &pii.Data{
		ClientIP:       clientIP,
		UserAgent:      ua,
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Referer:        r.Header.Get("Referer"),
		SessionID:      sessionID,
	})

	sink.Raise("hydration.complete", sessionID)
}

func emitUserAgentSignals(sink *signals.Sink, sessionID, ua string) {
	sink.RaiseValue("ua.length", sessionID, len(ua))
	if ua == "" {
		sink.Raise("ua.empty", sessionID)
		return
	}

	lower := strings.ToLower(ua)
	if ContainsBotKeyword(lower) {
		sink.Raise("ua.contains_bot_keyword", sessionID)
	}
	if IsCLITool(lower) {
		sink.Raise("ua.is_cli_tool", sessionID)
	}
	if IsHTTPLibrary(lower) {
		sink.Raise("ua.is_http_library", sessionID)
	}
	if family := BrowserFamily(lower); family != "" {
		sink.RaiseValue("ua.browser", sessionID, family)
	}
	if osName := OperatingSystem(lower); osName != "" {
		sink.RaiseValue("ua.os", sessionID, osName)
	}
}

func emitIPSignals(sink *signals.Sink, sessionID, clientIP string) {
	if clientIP == "" {
		sink.Raise("ip.missing", sessionID)
		return
	}
	sink.Raise("ip.present", sessionID)
	if strings.Contains(clientIP, ":") {
		sink.RaiseValue("ip.type", sessionID, "ipv6")
	} else {
		sink.RaiseValue("ip.type", sessionID, "ipv4")
	}
	if IsLoopback(clientIP) {
		sink.Raise("ip.is_loopback", sessionID)
	}
	if IsPrivate(clientIP) {
		sink.Raise("ip.is_private", sessionID)
	}
}
