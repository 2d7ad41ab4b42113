package escalate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rawblock/botwall-engine/pkg/models"
)

func requestSignal(band models.RiskBand, risk float64) models.RequestCompleteSignal {
	return models.RequestCompleteSignal{
		Signature: "81.2.69.142:abcd",
		RequestID: "req1",
		Timestamp: time.Now(),
		Risk:      risk,
		RiskBand:  band,
		Path:      "/products",
		Method:    "GET",
	}
}

type recordingSubscriber struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{} // When non-nil, Handle waits on it
}

func (r *recordingSubscriber) Name() string { return "recorder" }
func (r *recordingSubscriber) Handle(ev Event) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestFanoutDelivery(t *testing.T) {
	e := NewEscalator(0)
	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	e.Subscribe(a)
	e.Subscribe(b)

	for i := 0; i < 5; i++ {
		e.Publish(Event{Request: requestSignal(models.BandHigh, 0.85)})
	}
	e.Close()

	if a.count() != 5 || b.count() != 5 {
		t.Errorf("Every subscriber must see every event: %d/%d", a.count(), b.count())
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	e := NewEscalator(2)
	release := make(chan struct{})
	slow := &recordingSubscriber{block: release}
	e.Subscribe(slow)

	// The drain goroutine takes one event and blocks on it; the queue
	// holds two more. Everything beyond that displaces the oldest queued.
	for i := 0; i < 10; i++ {
		e.Publish(Event{Request: models.RequestCompleteSignal{RequestID: string(rune('a' + i))}})
	}
	close(release)
	e.Close()

	if got := slow.count(); got > 4 {
		t.Errorf("Bounded queue must shed load, delivered %d of 10", got)
	}
	if e.Dropped()["recorder"] == 0 {
		t.Errorf("Drops must be counted")
	}
	// The newest event always survives the shedding.
	slow.mu.Lock()
	last := slow.events[len(slow.events)-1].Request.RequestID
	slow.mu.Unlock()
	if last != string(rune('a'+9)) {
		t.Errorf("Newest event must survive, last delivered %q", last)
	}
}

func TestPublishDoesNotBlock(t *testing.T) {
	e := NewEscalator(1)
	e.Subscribe(&recordingSubscriber{block: make(chan struct{})}) // Never released

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.Publish(Event{Request: requestSignal(models.BandLow, 0.1)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a stuck subscriber")
	}
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	e := NewEscalator(0)
	sub := &recordingSubscriber{}
	e.Subscribe(sub)
	e.Publish(Event{Request: requestSignal(models.BandHigh, 0.9)})
	e.Close()

	// A straggling request thread must be swallowed, not panic on a
	// closed queue.
	e.Publish(Event{Request: requestSignal(models.BandLow, 0.1)})

	if sub.count() != 1 {
		t.Errorf("Only the pre-close event must be delivered, got %d", sub.count())
	}
}

func TestConcurrentPublishAndClose(t *testing.T) {
	e := NewEscalator(1)
	e.Subscribe(&recordingSubscriber{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				e.Publish(Event{Request: requestSignal(models.BandLow, 0.1)})
			}
		}()
	}
	e.Close()
	wg.Wait()
}

func TestWebhookBandFilterAndDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("Bad payload: %v", err)
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(100)
	n.Register(WebhookEndpoint{Name: "siem", URL: srv.URL, Enabled: true, MinBand: models.BandHigh})

	n.Handle(Event{Request: requestSignal(models.BandLow, 0.1)})
	n.Handle(Event{Request: requestSignal(models.BandVeryHigh, 0.97)})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("Only the above-threshold event must be delivered, got %d", len(received))
	}
	if received[0].RiskBand != models.BandVeryHigh || received[0].Risk != 0.97 {
		t.Errorf("Payload mismatch: %+v", received[0])
	}
}

func TestWebhookRateLimit(t *testing.T) {
	var mu sync.Mutex
	delivered := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewWebhookNotifier(1) // 1/s, burst 2
	n.Register(WebhookEndpoint{Name: "slack", URL: srv.URL, Enabled: true, MinBand: models.BandVeryLow})

	for i := 0; i < 20; i++ {
		n.Handle(Event{Request: requestSignal(models.BandVeryHigh, 0.99)})
	}

	mu.Lock()
	defer mu.Unlock()
	if delivered > 3 {
		t.Errorf("Limiter must cap the flood, delivered %d of 20", delivered)
	}
}

func TestWebhookRemove(t *testing.T) {
	n := NewWebhookNotifier(0)
	n.Register(WebhookEndpoint{Name: "a", URL: "http://example.invalid", Enabled: true})
	if !n.Remove("a") {
		t.Errorf("Remove must report success for a known name")
	}
	if n.Remove("a") {
		t.Errorf("Remove must report failure for an unknown name")
	}
	if len(n.Endpoints()) != 0 {
		t.Errorf("Endpoint list must be empty after removal")
	}
}

func TestTelemetryCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := NewTelemetry(reg)

	sig := requestSignal(models.BandHigh, 0.9)
	sig.Action = "block"
	sig.Honeypot = true
	op := &models.OperationCompleteSignal{RequestCompleteSignal: sig, StatusCode: 403, ResponseBytes: 512}
	tel.Handle(Event{Request: sig, Operation: op})
	tel.Handle(Event{Request: requestSignal(models.BandLow, 0.1)})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
	}
	for _, want := range []string{"botwall_detections_total", "botwall_actions_total", "botwall_verified_bad_total", "botwall_risk_score", "botwall_response_bytes"} {
		if !byName[want] {
			t.Errorf("Metric %s not exported", want)
		}
	}
}
