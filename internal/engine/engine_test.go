package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/botwall-engine/internal/action"
	"github.com/rawblock/botwall-engine/internal/detect"
	"github.com/rawblock/botwall-engine/internal/escalate"
	"github.com/rawblock/botwall-engine/internal/signature"
	"github.com/rawblock/botwall-engine/pkg/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
const googlebotUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

// hostileReputation lists one address as a verified harvester.
type hostileReputation struct{ hostile string }

func (h hostileReputation) Lookup(ctx context.Context, ip string) (detect.Reputation, error) {
	if ip == h.hostile {
		return detect.Reputation{Listed: true, ThreatScore: 100, VisitorType: "Harvester"}, nil
	}
	return detect.Reputation{}, nil
}

func crawlerDNS(ctx context.Context, ip string) (string, error) {
	if ip == "66.249.66.1" {
		return "crawl-66-249-66-1.googlebot.com", nil
	}
	return "unrelated.example.net", nil
}

func newTestEngine(t *testing.T) (*Engine, *signature.Coordinator) {
	t.Helper()

	detectors := detect.NewRegistry()
	detectors.Register(detect.NewUAAnalyzer())
	detectors.Register(detect.NewHeaderChecker())
	detectors.Register(detect.NewIPAnalyzer(detect.IPAnalyzerConfig{}))
	detectors.Register(detect.NewHoneypot(detect.HoneypotConfig{Client: hostileReputation{hostile: "198.51.100.23"}}))
	detectors.Register(detect.NewGoodBotVerifier(crawlerDNS))
	detectors.Register(detect.NewPathProbe())
	detectors.Register(detect.NewToolCorrelator())

	detectors.RegisterPolicy(detect.DetectionPolicy{
		Name:    "edge",
		Enabled: true,
		ActionMapping: map[string]string{
			"VeryLow":  "quiet",
			"Low":      "quiet",
			"Elevated": "quiet",
			"Medium":   "throttle-tools",
			"High":     "throttle-tools",
			"VeryHigh": "block",
			"Verified": "block-hard",
		},
	})

	actions := action.NewRegistry()
	// Observation policy with no response annotation, for clean traffic.
	if err := actions.Register(models.ActionPolicyConfig{
		Type: models.ActionLogOnly, Name: "quiet", Enabled: true,
		LogOnly: &models.LogOnlyConfig{},
	}); err != nil {
		t.Fatalf("register quiet: %v", err)
	}
	// Shrink the tool throttle's delay so tests run fast; semantics are
	// unchanged (429 refusal with Retry-After).
	if err := actions.Register(models.ActionPolicyConfig{
		Type: models.ActionThrottle, Name: "throttle-tools", Enabled: true,
		Throttle: &models.ThrottleConfig{
			BaseDelayMs: 5, MinDelayMs: 1, MaxDelayMs: 10,
			ReturnStatus: 429, IncludeHeaders: true, IncludeRetryAfter: true,
		},
	}); err != nil {
		t.Fatalf("register throttle-tools: %v", err)
	}

	sigs := signature.NewCoordinator(signature.Config{SweepInterval: time.Hour})
	t.Cleanup(sigs.Close)

	esc := escalate.NewEscalator(16)
	t.Cleanup(esc.Close)

	eng := New(Config{
		DetectionPolicy: "edge",
		Orchestrator: detect.OrchestratorConfig{
			ParallelWaveExecution: true,
			Timeout:               2 * time.Second,
		},
	}, detectors, actions, sigs, esc, nil)
	return eng, sigs
}

func browserRequest(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = "203.0.113.7:40312"
	r.Header.Set("User-Agent", chromeUA)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	return r
}

func TestScenarioFriendlyBrowser(t *testing.T) {
	eng, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	out, err := eng.Inspect(context.Background(), w, browserRequest("/"))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	ev := out.Evidence
	if ev.BotProbability > 0.25 {
		t.Errorf("Browser probability = %v, want <= 0.25", ev.BotProbability)
	}
	if ev.RiskBand != models.BandVeryLow && ev.RiskBand != models.BandLow {
		t.Errorf("band = %v, want VeryLow or Low", ev.RiskBand)
	}
	if !out.Result.Continue {
		t.Errorf("Friendly browser must pass through")
	}
	for name := range w.Header() {
		if strings.HasPrefix(name, "X-Bot-") {
			t.Errorf("Quiet policy must not annotate the response: %s", name)
		}
	}
}

func TestScenarioCurlFromDatacenter(t *testing.T) {
	eng, _ := newTestEngine(t)

	r := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	r.RemoteAddr = "3.92.0.10:51000"
	r.Header.Set("User-Agent", "curl/8.0.1")
	r.Header.Set("Accept", "*/*")

	w := httptest.NewRecorder()
	out, err := eng.Inspect(context.Background(), w, r)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	ev := out.Evidence
	if ev.BotProbability < 0.8 {
		t.Errorf("curl-on-datacenter probability = %v, want >= 0.8", ev.BotProbability)
	}
	if ev.Signals["ua.is_cli_tool"] == "" || ev.Signals["ip.is_datacenter"] == "" {
		t.Errorf("Expected cli-tool and datacenter signals, got %v", ev.Signals)
	}
	if out.Result.Continue {
		t.Errorf("High-band tool traffic must be refused")
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Errorf("Tool throttle must set Retry-After")
	}
}

func TestScenarioHoneypotHit(t *testing.T) {
	eng, _ := newTestEngine(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.23:40000"
	r.Header.Set("User-Agent", chromeUA)

	w := httptest.NewRecorder()
	out, err := eng.Inspect(context.Background(), w, r)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	ev := out.Evidence
	if ev.EarlyExit != models.ExitVerifiedBadBot {
		t.Errorf("early exit = %v, want VerifiedBadBot", ev.EarlyExit)
	}
	if ev.BotProbability != 1.0 || ev.RiskBand != models.BandVerified {
		t.Errorf("Verified-hostile verdict wrong: p=%v band=%v", ev.BotProbability, ev.RiskBand)
	}
	if out.Result.Continue || w.Code != http.StatusForbidden {
		t.Errorf("Verified-hostile client must be blocked with 403, got %d", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Error != "Access denied" {
		t.Errorf("Block body = %q (%v)", w.Body.String(), err)
	}
}

func TestScenarioVerifiedSearchEngine(t *testing.T) {
	eng, _ := newTestEngine(t)

	r := httptest.NewRequest(http.MethodGet, "/products", nil)
	r.RemoteAddr = "66.249.66.1:36000"
	r.Header.Set("User-Agent", googlebotUA)

	w := httptest.NewRecorder()
	out, err := eng.Inspect(context.Background(), w, r)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	ev := out.Evidence
	if ev.EarlyExit != models.ExitVerifiedGoodBot || ev.BotProbability != 0.0 || ev.RiskBand != models.BandVerified {
		t.Errorf("Good-bot verdict wrong: %+v", ev)
	}
	if !out.Result.Continue {
		t.Errorf("Verified search engine must pass through")
	}
}

func TestSignaturePersistence(t *testing.T) {
	eng, sigs := newTestEngine(t)

	const n = 7
	var key string
	for i := 0; i < n; i++ {
		w := httptest.NewRecorder()
		out, err := eng.Inspect(context.Background(), w, browserRequest("/"))
		if err != nil {
			t.Fatalf("Inspect %d: %v", i, err)
		}
		key = out.SignatureKey
	}

	state, ok := sigs.Get(key)
	if !ok {
		t.Fatalf("Signature %q missing", key)
	}
	if state.HitCount != n {
		t.Errorf("hit count = %d, want %d", state.HitCount, n)
	}
}

func TestPIIClearedAfterInspect(t *testing.T) {
	eng, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	if _, err := eng.Inspect(context.Background(), w, browserRequest("/")); err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if eng.Vault().Len() != 0 {
		t.Errorf("Vault must be empty after inspection, holds %d entries", eng.Vault().Len())
	}
}

func TestPanickingDetectorFailsOpen(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.detectors.Register(&detect.Detector{
		Name: "broken", Category: "Test", Priority: 5, Timeout: 50 * time.Millisecond, Enabled: true,
		Detect: func(ctx context.Context, req *detect.Request) ([]models.Contribution, error) {
			panic("boom")
		},
	})

	w := httptest.NewRecorder()
	out, err := eng.Inspect(context.Background(), w, browserRequest("/"))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !out.Result.Continue {
		t.Errorf("A broken detector must never deny traffic")
	}
	found := false
	for _, name := range out.Evidence.FailedDetectors {
		if name == "broken" {
			found = true
		}
	}
	if !found {
		t.Errorf("Panicking detector must land in failed_detectors: %v", out.Evidence.FailedDetectors)
	}
}

func TestCancellationPropagatesAndClearsPII(t *testing.T) {
	eng, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	out, err := eng.Inspect(ctx, w, browserRequest("/"))
	if err == nil {
		t.Fatalf("Cancelled inspection must surface the cancellation")
	}
	if out.Evidence.RiskBand != models.BandUnknown {
		t.Errorf("Cancelled verdict band = %v, want Unknown", out.Evidence.RiskBand)
	}
	if eng.Vault().Len() != 0 {
		t.Errorf("PII must be cleared even on cancellation")
	}
}

func TestMiddlewareBlocksAndPasses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	eng, _ := newTestEngine(t)

	handled := 0
	router := gin.New()
	router.Use(eng.Middleware())
	router.GET("/*any", func(c *gin.Context) {
		handled++
		c.String(http.StatusOK, "hello")
	})

	// Hostile client: handler never runs.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.23:40000"
	r.Header.Set("User-Agent", chromeUA)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if handled != 0 || w.Code != http.StatusForbidden {
		t.Errorf("Blocked request must abort the chain: handled=%d status=%d", handled, w.Code)
	}

	// Friendly client: handler runs.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, browserRequest("/"))
	if handled != 1 || w.Code != http.StatusOK {
		t.Errorf("Clean request must reach the handler: handled=%d status=%d", handled, w.Code)
	}
}
