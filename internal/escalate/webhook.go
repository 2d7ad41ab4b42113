package escalate

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Webhook Notifier
//
// Pushes high-risk detections to registered webhook endpoints (Slack,
// Discord, SIEM). Payloads are a common JSON shape compatible with
// incoming-webhook style receivers.
//
// Each endpoint filters by minimum risk band, and a shared token-bucket
// limiter caps the outbound rate so a scraping flood does not turn into
// a webhook flood.
// ──────────────────────────────────────────────────────────────────────

// WebhookEndpoint is a registered webhook receiver.
type WebhookEndpoint struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Enabled bool              `json:"enabled"`
	Headers map[string]string `json:"headers,omitempty"`
	MinBand models.RiskBand   `json:"minBand"` // Only notify at or above this band
}

// WebhookPayload is the delivered JSON body.
type WebhookPayload struct {
	Timestamp  time.Time       `json:"timestamp"`
	RequestID  string          `json:"requestId"`
	Signature  string          `json:"signature"`
	Risk       float64         `json:"risk"`
	RiskBand   models.RiskBand `json:"riskBand"`
	Action     string          `json:"action,omitempty"`
	Path       string          `json:"path,omitempty"`
	Method     string          `json:"method,omitempty"`
	Honeypot   bool            `json:"honeypot,omitempty"`
	Datacenter bool            `json:"datacenter,omitempty"`
	Title      string          `json:"title"`
}

// bandRank orders risk bands for threshold comparison.
var bandRank = map[models.RiskBand]int{
	models.BandVeryLow:  0,
	models.BandLow:      1,
	models.BandElevated: 2,
	models.BandMedium:   3,
	models.BandHigh:     4,
	models.BandVeryHigh: 5,
	models.BandVerified: 6,
}

// WebhookNotifier is an escalation subscriber delivering webhook posts.
type WebhookNotifier struct {
	mu        sync.RWMutex
	endpoints []WebhookEndpoint

	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewWebhookNotifier creates the notifier. maxPerSecond caps deliveries
// across all endpoints (0 selects 5/s with a burst of 10).
func NewWebhookNotifier(maxPerSecond float64) *WebhookNotifier {
	if maxPerSecond <= 0 {
		maxPerSecond = 5
	}
	return &WebhookNotifier{
		limiter:    rate.NewLimiter(rate.Limit(maxPerSecond), int(maxPerSecond*2)),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Name implements Subscriber.
func (n *WebhookNotifier) Name() string { return "webhooks" }

// Register adds a webhook endpoint.
func (n *WebhookNotifier) Register(ep WebhookEndpoint) {
	if ep.MinBand == "" {
		ep.MinBand = models.BandHigh
	}
	n.mu.Lock()
	n.endpoints = append(n.endpoints, ep)
	n.mu.Unlock()
	log.Printf("[Webhooks] Registered endpoint: %s → %s (min band: %s)", ep.Name, ep.URL, ep.MinBand)
}

// Remove deletes an endpoint by name.
func (n *WebhookNotifier) Remove(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, ep := range n.endpoints {
		if ep.Name == name {
			n.endpoints = append(n.endpoints[:i], n.endpoints[i+1:]...)
			return true
		}
	}
	return false
}

// Endpoints returns a copy of the registered endpoints.
func (n *WebhookNotifier) Endpoints() []WebhookEndpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]WebhookEndpoint, len(n.endpoints))
	copy(out, n.endpoints)
	return out
}

// Handle implements Subscriber: deliver the event to every endpoint whose
// band threshold it meets, within the shared rate limit.
func (n *WebhookNotifier) Handle(ev Event) {
	sig := ev.Request
	payload := WebhookPayload{
		Timestamp:  sig.Timestamp,
		RequestID:  sig.RequestID,
		Signature:  sig.Signature,
		Risk:       sig.Risk,
		RiskBand:   sig.RiskBand,
		Action:     sig.Action,
		Path:       sig.Path,
		Method:     sig.Method,
		Honeypot:   sig.Honeypot,
		Datacenter: sig.Datacenter,
		Title:      title(sig),
	}

	for _, ep := range n.Endpoints() {
		if !ep.Enabled {
			continue
		}
		if bandRank[sig.RiskBand] < bandRank[ep.MinBand] {
			continue
		}
		if !n.limiter.Allow() {
			log.Printf("[Webhooks] Rate limit reached, skipping delivery to %s", ep.Name)
			continue
		}
		n.send(ep, payload)
	}
}

func title(sig models.RequestCompleteSignal) string {
	switch {
	case sig.Honeypot:
		return "Verified hostile client blocked"
	case sig.RiskBand == models.BandVerified && sig.Risk >= 0.5:
		return "Verified bot detected"
	default:
		return "Bot risk " + string(sig.RiskBand) + " on " + sig.Method + " " + sig.Path
	}
}

func (n *WebhookNotifier) send(ep WebhookEndpoint, payload WebhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Webhooks] Failed to marshal payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("[Webhooks] Failed to create request for %s: %v", ep.Name, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Printf("[Webhooks] Delivery to %s failed: %v", ep.Name, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[Webhooks] %s returned status %d", ep.Name, resp.StatusCode)
	}
}
