package signature

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Signature Coordinator
//
// Process-wide map from client signature key → rolling state. Each
// verdict feeds the signature's EMA-smoothed probability/confidence,
// bounded sparkline histories, and path counters, so later requests from
// the same client can be judged on cadence as well as content.
//
// Eviction is two-layered: an LRU bound on entry count, and a TTL sweep
// for signatures that simply stopped showing up.
//
// Keys never contain raw PII: the user-agent half is the vault's keyed
// short digest, derived by the caller.
// ──────────────────────────────────────────────────────────────────────

// Config parametrises the coordinator. Zero values select defaults.
type Config struct {
	MaxEntries    int           // LRU bound, default 10000
	TTL           time.Duration // Idle expiry, default 30 minutes
	SweepInterval time.Duration // TTL sweep cadence, default 1 minute
	Alpha         float64       // EMA smoothing factor, default 0.3
	HistoryLength int           // Sparkline buffer bound, default models.HistoryLength

	Mirror *RedisMirror // Optional cross-replica mirror, may be nil
}

// RequestMetadata is the per-request context recorded alongside a verdict.
type RequestMetadata struct {
	Path             string
	ProcessingTimeMs float64
}

type entry struct {
	key   string
	state models.SignatureState
}

// Coordinator owns the rolling signature table.
type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*list.Element
	recency *list.List // front = most recently seen

	stop chan struct{}
	done chan struct{}
}

// Key derives the canonical signature key from the client address and the
// vault's short digest of the user agent.
func Key(clientIP, uaShortDigest string) string {
	return clientIP + ":" + uaShortDigest
}

// NewCoordinator creates the table and starts its TTL sweeper.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.3
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = models.HistoryLength
	}

	c := &Coordinator{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		recency: list.New(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the sweeper and the mirror writer.
func (c *Coordinator) Close() {
	close(c.stop)
	<-c.done
	if c.cfg.Mirror != nil {
		c.cfg.Mirror.Close()
	}
}

// Record folds one verdict into the signature's rolling state. The whole
// update is atomic under the table lock.
func (c *Coordinator) Record(key string, ev models.AggregatedEvidence, meta RequestMetadata) models.SignatureState {
	now := time.Now()

	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		el = c.recency.PushFront(&entry{
			key: key,
			state: models.SignatureState{
				PrimarySignature: key,
				FirstSeen:        now,
				BotProbability:   ev.BotProbability,
				Confidence:       ev.Confidence,
				PathCounts:       make(map[string]int64),
			},
		})
		c.entries[key] = el
		c.evictOverflowLocked()
	} else {
		c.recency.MoveToFront(el)
	}

	e := el.Value.(*entry)
	s := &e.state

	s.HitCount++
	s.LastSeen = now
	if ok {
		// EMA only from the second observation; the first seeds it.
		s.BotProbability = c.cfg.Alpha*ev.BotProbability + (1-c.cfg.Alpha)*s.BotProbability
		s.Confidence = c.cfg.Alpha*ev.Confidence + (1-c.cfg.Alpha)*s.Confidence
	}
	s.RiskBand = models.BandForProbability(s.BotProbability)
	if ev.PrimaryBotName != "" {
		s.BotName = ev.PrimaryBotName
	}
	if ev.PrimaryBotType != "" {
		s.BotType = ev.PrimaryBotType
	}
	if meta.Path != "" {
		s.LastPath = meta.Path
		s.PathCounts[meta.Path]++
	}

	s.ProbabilityHistory = appendBounded(s.ProbabilityHistory, ev.BotProbability, c.cfg.HistoryLength)
	s.ConfidenceHistory = appendBounded(s.ConfidenceHistory, ev.Confidence, c.cfg.HistoryLength)
	s.ProcessingTimeHistory = appendBounded(s.ProcessingTimeHistory, meta.ProcessingTimeMs, c.cfg.HistoryLength)

	snapshot := cloneState(s)
	c.mu.Unlock()

	if c.cfg.Mirror != nil {
		c.cfg.Mirror.Enqueue(snapshot)
	}
	return snapshot
}

// Get returns a snapshot of the signature's state. A read does not count
// as activity for LRU or TTL purposes.
func (c *Coordinator) Get(key string) (models.SignatureState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return models.SignatureState{}, false
	}
	return cloneState(&el.Value.(*entry).state), true
}

// List returns up to limit snapshots passing the filter, most recently
// seen first. A nil filter passes everything; limit <= 0 means all.
func (c *Coordinator) List(limit int, filter func(models.SignatureState) bool) []models.SignatureState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.SignatureState, 0, c.recency.Len())
	for el := c.recency.Front(); el != nil; el = el.Next() {
		s := cloneState(&el.Value.(*entry).state)
		if filter != nil && !filter(s) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// TopByRisk returns the limit highest-probability signatures for the
// dashboard's hot list.
func (c *Coordinator) TopByRisk(limit int) []models.SignatureState {
	all := c.List(0, nil)
	sort.Slice(all, func(i, j int) bool {
		return all[i].BotProbability > all[j].BotProbability
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Len reports the current entry count.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Coordinator) evictOverflowLocked() {
	for len(c.entries) > c.cfg.MaxEntries {
		oldest := c.recency.Back()
		if oldest == nil {
			return
		}
		c.recency.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

func (c *Coordinator) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired(time.Now())
		case <-c.stop:
			return
		}
	}
}

// sweepExpired drops entries idle longer than the TTL. The recency list
// is ordered, so the walk stops at the first live entry.
func (c *Coordinator) sweepExpired(now time.Time) int {
	cutoff := now.Add(-c.cfg.TTL)
	swept := 0

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		oldest := c.recency.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		if e.state.LastSeen.After(cutoff) {
			break
		}
		c.recency.Remove(oldest)
		delete(c.entries, e.key)
		swept++
	}
	return swept
}

func appendBounded(buf []float64, v float64, max int) []float64 {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

// cloneState deep-copies the mutable parts so callers never alias the
// table's live entry.
func cloneState(s *models.SignatureState) models.SignatureState {
	out := *s
	if s.PathCounts != nil {
		out.PathCounts = make(map[string]int64, len(s.PathCounts))
		for k, v := range s.PathCounts {
			out.PathCounts[k] = v
		}
	}
	out.ProbabilityHistory = append([]float64(nil), s.ProbabilityHistory...)
	out.ConfidenceHistory = append([]float64(nil), s.ConfidenceHistory...)
	out.ProcessingTimeHistory = append([]float64(nil), s.ProcessingTimeHistory...)
	return out
}
