package hydrate

import (
	"net/http/httptest"
	"testing"

	"github.com/rawblock/botwall-engine/internal/pii"
	"github.com/rawblock/botwall-engine/internal/signals"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestHydrateBrowserRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/products?page=2", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	r.Header.Set("User-Agent", chromeUA)
	r.Header.Set("Accept", "text/html")
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	r.Header.Set("Cookie", "sid=abc")

	sink := signals.NewSink(0, 0)
	vault := pii.NewVault()
	Hydrate(r, sink, vault, "req1", "sess1")

	for _, want := range []string{
		"request.has_query",
		"header.user_agent.present",
		"header.accept_language.present",
		"header.cookie.present",
		"ip.present",
		"hydration.complete",
	} {
		if !sink.Has(want) {
			t.Errorf("Expected signal %q to be raised", want)
		}
	}

	if e, _ := sink.First("request.method"); e.String() != "GET" {
		t.Errorf("request.method = %q", e.String())
	}
	if e, _ := sink.First("ua.browser"); e.String() != "chrome" {
		t.Errorf("ua.browser = %q, want chrome", e.String())
	}
	if e, _ := sink.First("ua.os"); e.String() != "windows" {
		t.Errorf("ua.os = %q, want windows", e.String())
	}
	if e, _ := sink.First("ip.type"); e.String() != "ipv4" {
		t.Errorf("ip.type = %q, want ipv4", e.String())
	}
	if sink.Has("ua.is_cli_tool") || sink.Has("ua.contains_bot_keyword") {
		t.Errorf("Browser UA must not classify as CLI tool or bot keyword")
	}

	data := vault.Get("req1")
	if data == nil || data.ClientIP != "203.0.113.7" || data.UserAgent != chromeUA {
		t.Fatalf("Vault record incomplete: %+v", data)
	}
}

func TestHydrateNoPIIInSignalValues(t *testing.T) {
	// Property: no signal value may contain the raw client IP, UA, referer
	// or session ID.
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.99:443"
	r.Header.Set("User-Agent", chromeUA)
	r.Header.Set("Referer", "https://example.org/landing")

	sink := signals.NewSink(0, 0)
	vault := pii.NewVault()
	Hydrate(r, sink, vault, "req1", "sess-secret-77")

	raw := []string{"203.0.113.99", chromeUA, "https://example.org/landing", "sess-secret-77"}
	for _, e := range sink.Snapshot() {
		for _, v := range raw {
			if e.Value == v {
				t.Errorf("Signal %q leaks raw PII value %q", e.Name, v)
			}
		}
	}
}

func TestHydrateCLITool(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/data", nil)
	r.RemoteAddr = "3.92.0.10:40000"
	r.Header.Set("User-Agent", "curl/8.0.1")

	sink := signals.NewSink(0, 0)
	Hydrate(r, sink, pii.NewVault(), "req1", "sess1")

	if !sink.Has("ua.is_cli_tool") {
		t.Errorf("Expected curl to classify as CLI tool")
	}
	if sink.Has("ua.browser") {
		t.Errorf("curl must not claim a browser family")
	}
}

func TestHydrateEmptyUA(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:1024"

	sink := signals.NewSink(0, 0)
	Hydrate(r, sink, pii.NewVault(), "req1", "sess1")

	if !sink.Has("ua.empty") {
		t.Errorf("Expected ua.empty for missing user agent")
	}
	if e, _ := sink.First("ua.length"); e.Int() != 0 {
		t.Errorf("ua.length = %d, want 0", e.Int())
	}
}

func TestResolveClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"Public Peer Wins", "203.0.113.7:999", "198.51.100.1", "203.0.113.7"},
		{"Private Peer Falls Back To XFF", "10.0.0.5:999", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"Leftmost Non-Private XFF", "127.0.0.1:999", "10.1.1.1, 198.51.100.9, 203.0.113.1", "198.51.100.9"},
		{"All Private Keeps Peer", "192.168.1.10:999", "10.0.0.1", "192.168.1.10"},
		{"No XFF Keeps Loopback Peer", "127.0.0.1:999", "", "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ResolveClientIP(r); got != tt.want {
				t.Errorf("ResolveClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBrowserFamilyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"Edge Before Chrome", "mozilla/5.0 chrome/120.0 safari/537.36 edg/120.0", "edge"},
		{"Opera Before Chrome", "mozilla/5.0 chrome/120.0 opr/105.0", "opera"},
		{"Chrome Before Safari", "mozilla/5.0 chrome/120.0 safari/537.36", "chrome"},
		{"Plain Safari", "mozilla/5.0 version/17.1 safari/605.1.15", "safari"},
		{"Non-Browser", "python-requests/2.31", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BrowserFamily(tt.ua); got != tt.want {
				t.Errorf("BrowserFamily(%q) = %q, want %q", tt.ua, got, tt.want)
			}
		})
	}
}
