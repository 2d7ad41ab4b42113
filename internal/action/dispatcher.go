package action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Action Dispatcher
//
// Applies a resolved policy to the live HTTP exchange. Every branch is
// best-effort: an action that cannot be applied logs and fails open
// (continue=true) so an enforcement outage never denies real users.
// The single exception is caller cancellation during a throttle sleep,
// which propagates.
// ──────────────────────────────────────────────────────────────────────

// Context handoff keys written for downstream middleware when a LogOnly
// policy asks for them.
const (
	CtxShadowMode        = "BotDetection.ShadowMode"
	CtxWouldBlock        = "BotDetection.WouldBlock"
	CtxEvidence          = "BotDetection.Evidence"
	CtxAction            = "BotDetection.Action"
	CtxSandboxPolicy     = "BotDetection.SandboxPolicy"
	CtxSandboxSampleRate = "BotDetection.SandboxSampleRate"
	CtxSandboxUseLlm     = "BotDetection.SandboxUseLlm"
)

// DefaultWouldBlockThreshold classifies a shadow verdict as would-block
// when the policy leaves the threshold unset.
const DefaultWouldBlockThreshold = 0.8

type backoffEntry struct {
	count int
	last  time.Time
}

// Dispatcher executes action policies. It keeps the per-signature repeat
// counters that drive exponential throttle backoff.
type Dispatcher struct {
	mu      sync.Mutex
	backoff map[string]*backoffEntry

	// backoffReset returns a signature's counter to zero after this much
	// idle time, so yesterday's offender starts over today.
	backoffReset time.Duration

	sleep func(context.Context, time.Duration) error // test seam
}

// NewDispatcher creates a dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		backoff:      make(map[string]*backoffEntry),
		backoffReset: time.Minute,
		sleep:        sleepCtx,
	}
}

// Dispatch applies the policy. items, when non-nil, receives the context
// handoff entries for downstream middleware.
func (d *Dispatcher) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, policy models.ActionPolicyConfig, ev models.AggregatedEvidence, signatureKey string, items map[string]any) (models.ActionResult, error) {
	res, err := d.apply(ctx, w, r, policy, ev, signatureKey, items)
	if err != nil {
		if ctx.Err() != nil && err == ctx.Err() {
			// Cancellation is the caller's, not ours.
			return res, err
		}
		log.Printf("[Actions] Policy %s failed, failing open: %v", policy.Name, err)
		return models.ActionResult{Continue: true, Description: "action error, failed open"}, nil
	}
	return res, nil
}

func (d *Dispatcher) apply(ctx context.Context, w http.ResponseWriter, r *http.Request, policy models.ActionPolicyConfig, ev models.AggregatedEvidence, signatureKey string, items map[string]any) (models.ActionResult, error) {
	switch policy.Type {
	case models.ActionBlock:
		return d.block(w, policy, ev)
	case models.ActionThrottle:
		return d.throttle(ctx, w, policy, ev, signatureKey)
	case models.ActionChallenge:
		return d.challenge(w, r, policy, ev)
	case models.ActionRedirect:
		return d.redirect(w, r, policy, ev)
	case models.ActionLogOnly, models.ActionResponseMutate:
		return d.logOnly(w, policy, ev, items)
	default:
		return models.ActionResult{}, fmt.Errorf("unknown action type %q", policy.Type)
	}
}

// ─── Block ─────────────────────────────────────────────────────────────

type blockEnvelope struct {
	Error     string          `json:"error"`
	RiskScore *float64        `json:"riskScore,omitempty"`
	RiskBand  models.RiskBand `json:"riskBand,omitempty"`
	Policy    string          `json:"policy,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (d *Dispatcher) block(w http.ResponseWriter, policy models.ActionPolicyConfig, ev models.AggregatedEvidence) (models.ActionResult, error) {
	cfg := policy.Block

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	for k, v := range cfg.ExtraHeaders {
		w.Header().Set(k, v)
	}
	w.WriteHeader(cfg.StatusCode)

	if cfg.WriteRawMessage || !strings.Contains(contentType, "json") {
		_, _ = w.Write([]byte(cfg.Message))
	} else {
		env := blockEnvelope{Error: cfg.Message, Timestamp: time.Now().UTC()}
		if cfg.IncludeRiskScore {
			score := ev.BotProbability
			env.RiskScore = &score
			env.RiskBand = ev.RiskBand
			env.Policy = policy.Name
		}
		_ = json.NewEncoder(w).Encode(env)
	}

	return models.ActionResult{
		Continue:    false,
		StatusCode:  cfg.StatusCode,
		Description: "blocked by " + policy.Name,
	}, nil
}

// ─── Throttle ──────────────────────────────────────────────────────────

func (d *Dispatcher) throttle(ctx context.Context, w http.ResponseWriter, policy models.ActionPolicyConfig, ev models.AggregatedEvidence, signatureKey string) (models.ActionResult, error) {
	cfg := policy.Throttle
	delayMs := d.computeDelay(cfg, policy.Name, ev.BotProbability, signatureKey)

	if cfg.IncludeHeaders {
		w.Header().Set("X-Throttle-Delay", strconv.Itoa(delayMs))
		w.Header().Set("X-Throttle-Policy", policy.Name)
	}
	if cfg.IncludeRetryAfter {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(float64(delayMs)/1000))))
	}

	if err := d.sleep(ctx, time.Duration(delayMs)*time.Millisecond); err != nil {
		return models.ActionResult{}, err
	}

	if cfg.ReturnStatus != 0 {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(cfg.ReturnStatus)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":        "rate limited",
			"retryAfterMs": delayMs,
		})
		return models.ActionResult{
			Continue:    false,
			StatusCode:  cfg.ReturnStatus,
			Description: "throttled and refused by " + policy.Name,
			Metadata:    map[string]string{"delayMs": strconv.Itoa(delayMs)},
		}, nil
	}

	return models.ActionResult{
		Continue:    true,
		Description: "delayed by " + policy.Name,
		Metadata:    map[string]string{"delayMs": strconv.Itoa(delayMs)},
	}, nil
}

// computeDelay implements the throttle formula: risk scaling toward the
// max, exponential per-signature backoff, jitter, then clamping.
func (d *Dispatcher) computeDelay(cfg *models.ThrottleConfig, policyName string, risk float64, signatureKey string) int {
	delay := float64(cfg.BaseDelayMs)

	if cfg.ScaleByRisk && cfg.MaxDelayMs > cfg.BaseDelayMs {
		delay += math.Max(0, risk-0.5) * 2 * float64(cfg.MaxDelayMs-cfg.BaseDelayMs)
	}

	if cfg.ExponentialBackoff && cfg.BackoffFactor > 1 {
		count := d.bumpBackoff(signatureKey + "|" + policyName)
		delay *= math.Pow(cfg.BackoffFactor, float64(count-1))
	}

	if cfg.MaxDelayMs > 0 && delay > float64(cfg.MaxDelayMs) {
		delay = float64(cfg.MaxDelayMs)
	}
	if cfg.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * cfg.Jitter
	}
	if delay < float64(cfg.MinDelayMs) {
		delay = float64(cfg.MinDelayMs)
	}
	if cfg.MaxDelayMs > 0 && delay > float64(cfg.MaxDelayMs) {
		delay = float64(cfg.MaxDelayMs)
	}
	return int(delay)
}

func (d *Dispatcher) bumpBackoff(key string) int {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.backoff[key]
	if e == nil || now.Sub(e.last) > d.backoffReset {
		e = &backoffEntry{}
		d.backoff[key] = e
	}
	e.count++
	e.last = now

	// Opportunistic prune keeps the table from growing without bound.
	if len(d.backoff) > 10000 {
		for k, v := range d.backoff {
			if now.Sub(v.last) > d.backoffReset {
				delete(d.backoff, k)
			}
		}
	}
	return e.count
}

// ─── Challenge ─────────────────────────────────────────────────────────

func (d *Dispatcher) challenge(w http.ResponseWriter, r *http.Request, policy models.ActionPolicyConfig, ev models.AggregatedEvidence) (models.ActionResult, error) {
	cfg := policy.Challenge

	cookieName := cfg.TokenCookieName
	if cookieName == "" {
		cookieName = DefaultTokenCookie
	}
	if c, err := r.Cookie(cookieName); err == nil && VerifyToken(cfg.TokenSecret, c.Value) {
		return models.ActionResult{Continue: true, Description: "challenge token accepted"}, nil
	}

	switch cfg.ChallengeType {
	case models.ChallengeRedirect:
		target := cfg.ChallengeURL
		if target == "" {
			target = "/challenge"
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "return=" + url.QueryEscape(r.URL.RequestURI())
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusFound)
		return models.ActionResult{Continue: false, StatusCode: http.StatusFound, Description: "redirected to challenge"}, nil

	case models.ChallengeInline, models.ChallengeCaptcha:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(challengeHTML(cfg)))
		return models.ActionResult{Continue: false, StatusCode: http.StatusForbidden, Description: "inline challenge served"}, nil

	case models.ChallengeJavaScript:
		if r.Method == http.MethodPost {
			// The served page auto-submits its form; the POST proves a
			// script-running client and earns the bypass cookie.
			grantChallengeToken(w, cfg, cookieName)
			w.Header().Set("Location", r.URL.RequestURI())
			w.WriteHeader(http.StatusFound)
			return models.ActionResult{Continue: false, StatusCode: http.StatusFound, Description: "js challenge passed"}, nil
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(jsChallengeHTML(cfg)))
		return models.ActionResult{Continue: false, StatusCode: http.StatusForbidden, Description: "js challenge served"}, nil

	case models.ChallengeProofOfWork:
		if r.Method == http.MethodPost {
			if res, ok := acceptPowSolution(w, r, cfg, cookieName, ev); ok {
				return res, nil
			}
			// Bad or missing solution: fall through to a fresh puzzle.
		}
		pc := NewPowChallenge(ev.BotProbability)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(pc)
		return models.ActionResult{
			Continue: false, StatusCode: http.StatusForbidden,
			Description: "proof-of-work challenge served",
			Metadata:    map[string]string{"difficulty": strconv.Itoa(pc.Difficulty)},
		}, nil

	default:
		return models.ActionResult{}, fmt.Errorf("unknown challenge type %q", cfg.ChallengeType)
	}
}

// powSolution is what a challenged client posts back: the puzzle it was
// served and the nonce it found.
type powSolution struct {
	Challenge string `json:"challenge"`
	Nonce     string `json:"nonce"`
}

// acceptPowSolution verifies a posted nonce. The puzzle is stateless, so
// the required difficulty comes from the client's current risk, never
// from the submission. On success the response is fully written and the
// bypass cookie set; ok=false leaves the response untouched.
func acceptPowSolution(w http.ResponseWriter, r *http.Request, cfg *models.ChallengeConfig, cookieName string, ev models.AggregatedEvidence) (models.ActionResult, bool) {
	var sol powSolution
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&sol); err != nil {
		return models.ActionResult{}, false
	}
	if sol.Challenge == "" || !VerifyPow(sol.Challenge, sol.Nonce, PowDifficulty(ev.BotProbability)) {
		return models.ActionResult{}, false
	}

	grantChallengeToken(w, cfg, cookieName)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	return models.ActionResult{
		Continue: false, StatusCode: http.StatusOK,
		Description: "proof-of-work solved",
	}, true
}

// grantChallengeToken mints the cookie that lets subsequent requests skip
// the challenge until the token expires.
func grantChallengeToken(w http.ResponseWriter, cfg *models.ChallengeConfig, cookieName string) {
	validity := time.Duration(cfg.TokenValidityMins) * time.Minute
	if validity <= 0 {
		validity = 30 * time.Minute
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    IssueToken(cfg.TokenSecret, validity),
		Path:     "/",
		MaxAge:   int(validity / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func challengeHTML(cfg *models.ChallengeConfig) string {
	title := cfg.Title
	if title == "" {
		title = "Verification required"
	}
	message := cfg.Message
	if message == "" {
		message = "Please complete the verification to continue."
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>")
	b.WriteString(title)
	b.WriteString("</title></head><body><h1>")
	b.WriteString(title)
	b.WriteString("</h1><p>")
	b.WriteString(message)
	b.WriteString("</p>")
	if cfg.ChallengeType == models.ChallengeCaptcha && cfg.CaptchaSiteKey != "" {
		b.WriteString(`<div class="g-recaptcha" data-sitekey="` + cfg.CaptchaSiteKey + `"></div>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func jsChallengeHTML(cfg *models.ChallengeConfig) string {
	title := cfg.Title
	if title == "" {
		title = "Checking your browser"
	}
	return "<!DOCTYPE html><html><head><title>" + title + "</title>" +
		`<script>setTimeout(function(){document.forms[0].submit()},1500)</script>` +
		"</head><body><p>" + title + "...</p><form method=\"POST\" action=\"\"></form></body></html>"
}

// ─── Redirect ──────────────────────────────────────────────────────────

func (d *Dispatcher) redirect(w http.ResponseWriter, r *http.Request, policy models.ActionPolicyConfig, ev models.AggregatedEvidence) (models.ActionResult, error) {
	cfg := policy.Redirect

	target := expandTemplate(cfg.TargetURL, policy.Name, ev, r.URL.Path)
	if cfg.PreserveQuery && r.URL.RawQuery != "" {
		target = appendQuery(target, r.URL.RawQuery)
	}
	if cfg.IncludeReturn {
		target = appendQuery(target, "return="+url.QueryEscape(r.URL.RequestURI()))
	}
	if cfg.AddMetadata {
		target = appendQuery(target,
			"bot_risk="+formatRisk(ev.BotProbability)+"&bot_band="+url.QueryEscape(string(ev.RiskBand)))
	}

	status := http.StatusFound
	if cfg.Permanent {
		status = http.StatusMovedPermanently
	}
	w.Header().Set("Location", target)
	w.WriteHeader(status)

	return models.ActionResult{
		Continue: false, StatusCode: status,
		Description: "redirected by " + policy.Name,
		Metadata:    map[string]string{"location": target},
	}, nil
}

func expandTemplate(tmpl, policyName string, ev models.AggregatedEvidence, originalPath string) string {
	rep := strings.NewReplacer(
		"{risk}", formatRisk(ev.BotProbability),
		"{riskBand}", url.QueryEscape(string(ev.RiskBand)),
		"{policy}", url.QueryEscape(policyName),
		"{originalPath}", url.QueryEscape(originalPath),
	)
	return rep.Replace(tmpl)
}

func formatRisk(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

func appendQuery(target, q string) string {
	if strings.Contains(target, "?") {
		return target + "&" + q
	}
	return target + "?" + q
}

// ─── LogOnly ───────────────────────────────────────────────────────────

func (d *Dispatcher) logOnly(w http.ResponseWriter, policy models.ActionPolicyConfig, ev models.AggregatedEvidence, items map[string]any) (models.ActionResult, error) {
	cfg := policy.LogOnly

	threshold := cfg.WouldBlockThreshold
	if threshold <= 0 {
		threshold = DefaultWouldBlockThreshold
	}
	wouldBlock := ev.BotProbability >= threshold

	level := strings.ToUpper(cfg.LogLevel)
	if level == "" {
		level = "INFO"
	}
	if cfg.LogFullEvidence {
		full, _ := json.Marshal(ev)
		log.Printf("[Actions] [%s] %s verdict: %s", level, policy.Name, full)
	} else {
		log.Printf("[Actions] [%s] %s: risk=%.2f band=%s wouldBlock=%v detectors=%d",
			level, policy.Name, ev.BotProbability, ev.RiskBand, wouldBlock, len(ev.ContributingDetectors))
	}

	if cfg.AddResponseHeaders {
		mode := cfg.ActionMarker
		if mode == "" {
			mode = policy.Name
		}
		h := w.Header()
		h.Set("X-Bot-Detection-Mode", mode)
		h.Set("X-Bot-Risk-Score", formatRisk(ev.BotProbability))
		h.Set("X-Bot-Risk-Band", string(ev.RiskBand))
		h.Set("X-Bot-Policy", policy.Name)
		if cfg.IncludeDetailedHeaders {
			h.Set("X-Bot-Detectors", strings.Join(ev.ContributingDetectors, ","))
			h.Set("X-Bot-Confidence", formatRisk(ev.Confidence))
			if ev.PrimaryBotName != "" {
				h.Set("X-Bot-Name", ev.PrimaryBotName)
			}
			if ev.PrimaryBotType != "" {
				h.Set("X-Bot-Type", ev.PrimaryBotType)
			}
		}
	}

	if cfg.AddToContextItems && items != nil {
		items[CtxShadowMode] = true
		items[CtxWouldBlock] = wouldBlock
		items[CtxEvidence] = ev
		items[CtxAction] = cfg.ActionMarker
		if cfg.ActionMarker == "sandbox" {
			items[CtxSandboxPolicy] = cfg.SandboxPolicy
			items[CtxSandboxSampleRate] = cfg.SandboxSampleRate
			items[CtxSandboxUseLlm] = rand.Float64() < cfg.SandboxSampleRate
		}
	}

	return models.ActionResult{
		Continue:    true,
		Description: "observed by " + policy.Name,
		Metadata:    map[string]string{"wouldBlock": strconv.FormatBool(wouldBlock)},
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
