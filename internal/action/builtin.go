package action

import "github.com/rawblock/botwall-engine/pkg/models"

// builtinPolicies is the catalogue every registry starts with. Names are
// stable API: detection policies reference them in their band mappings,
// and configuration overrides them by re-registering the same name.
func builtinPolicies() []models.ActionPolicyConfig {
	block := func(name string, cfg models.BlockConfig) models.ActionPolicyConfig {
		return models.ActionPolicyConfig{Type: models.ActionBlock, Name: name, Enabled: true, Block: &cfg}
	}
	throttle := func(name string, cfg models.ThrottleConfig) models.ActionPolicyConfig {
		return models.ActionPolicyConfig{Type: models.ActionThrottle, Name: name, Enabled: true, Throttle: &cfg}
	}
	redirect := func(name string, cfg models.RedirectConfig) models.ActionPolicyConfig {
		return models.ActionPolicyConfig{Type: models.ActionRedirect, Name: name, Enabled: true, Redirect: &cfg}
	}
	challenge := func(name string, cfg models.ChallengeConfig) models.ActionPolicyConfig {
		if cfg.TokenCookieName == "" {
			cfg.TokenCookieName = DefaultTokenCookie
		}
		if cfg.TokenValidityMins == 0 {
			cfg.TokenValidityMins = 30
		}
		return models.ActionPolicyConfig{Type: models.ActionChallenge, Name: name, Enabled: true, Challenge: &cfg}
	}
	logOnly := func(name string, cfg models.LogOnlyConfig) models.ActionPolicyConfig {
		if cfg.LogLevel == "" {
			cfg.LogLevel = "info"
		}
		return models.ActionPolicyConfig{Type: models.ActionLogOnly, Name: name, Enabled: true, LogOnly: &cfg}
	}

	return []models.ActionPolicyConfig{
		// ─── Block family ──────────────────────────────────────────────
		block("block", models.BlockConfig{
			StatusCode: 403, Message: "Access denied", IncludeRiskScore: true,
		}),
		// Same refusal as "block" but without the risk disclosure.
		block("block-hard", models.BlockConfig{
			StatusCode: 403, Message: "Access denied",
		}),
		block("block-soft", models.BlockConfig{
			StatusCode: 429, Message: "Too many requests, please slow down",
		}),
		block("block-debug", models.BlockConfig{
			StatusCode: 403, Message: "Access denied", IncludeRiskScore: true,
			ExtraHeaders: map[string]string{"X-Block-Debug": "1"},
		}),
		// Feed scrapers a believable success so they stop probing.
		block("block-fake-success", models.BlockConfig{
			StatusCode: 200, Message: `{"status":"ok","data":[]}`,
			ContentType: "application/json", WriteRawMessage: true,
		}),
		block("block-fake-html", models.BlockConfig{
			StatusCode:  200,
			Message:     "<!DOCTYPE html><html><head><title>Welcome</title></head><body><p>Loading...</p></body></html>",
			ContentType: "text/html; charset=utf-8", WriteRawMessage: true,
		}),

		// ─── Throttle family ───────────────────────────────────────────
		throttle("throttle", models.ThrottleConfig{
			BaseDelayMs: 500, MinDelayMs: 100, MaxDelayMs: 5000,
			Jitter: 0.2, ScaleByRisk: true, IncludeHeaders: true,
		}),
		throttle("throttle-gentle", models.ThrottleConfig{
			BaseDelayMs: 250, MinDelayMs: 50, MaxDelayMs: 2000, Jitter: 0.2, IncludeHeaders: true,
		}),
		throttle("throttle-moderate", models.ThrottleConfig{
			BaseDelayMs: 1000, MinDelayMs: 200, MaxDelayMs: 10000,
			Jitter: 0.2, ScaleByRisk: true, IncludeHeaders: true,
		}),
		throttle("throttle-aggressive", models.ThrottleConfig{
			BaseDelayMs: 3000, MinDelayMs: 1000, MaxDelayMs: 30000,
			ScaleByRisk: true, ExponentialBackoff: true, BackoffFactor: 2.0, IncludeHeaders: true,
		}),
		// No headers: the client should not learn it is being slowed.
		throttle("throttle-stealth", models.ThrottleConfig{
			BaseDelayMs: 800, MinDelayMs: 200, MaxDelayMs: 8000, Jitter: 0.5, ScaleByRisk: true,
		}),
		// CLI tools honor Retry-After; browsers never see this policy.
		throttle("throttle-tools", models.ThrottleConfig{
			BaseDelayMs: 2000, MinDelayMs: 500, MaxDelayMs: 20000,
			ReturnStatus: 429, IncludeHeaders: true, IncludeRetryAfter: true,
		}),

		// ─── Redirect family ───────────────────────────────────────────
		redirect("redirect", models.RedirectConfig{TargetURL: "/denied"}),
		redirect("redirect-honeypot", models.RedirectConfig{
			TargetURL: "/trap?from={originalPath}", AddMetadata: true,
		}),
		redirect("redirect-tarpit", models.RedirectConfig{TargetURL: "/tarpit", PreserveQuery: true}),
		redirect("redirect-error", models.RedirectConfig{TargetURL: "/error?code=503"}),

		// ─── Challenge family ──────────────────────────────────────────
		challenge("challenge", models.ChallengeConfig{
			ChallengeType: models.ChallengeRedirect, ChallengeURL: "/challenge",
			Title: "Verification required",
		}),
		challenge("challenge-captcha", models.ChallengeConfig{
			ChallengeType: models.ChallengeCaptcha,
			Title:         "Are you human?", Message: "Complete the captcha to continue.",
		}),
		challenge("challenge-js", models.ChallengeConfig{
			ChallengeType: models.ChallengeJavaScript,
			Title:         "Checking your browser",
		}),
		challenge("challenge-pow", models.ChallengeConfig{
			ChallengeType: models.ChallengeProofOfWork,
		}),

		// ─── Observation family ────────────────────────────────────────
		logOnly("logonly", models.LogOnlyConfig{AddResponseHeaders: true}),
		logOnly("shadow", models.LogOnlyConfig{
			AddResponseHeaders: true, AddToContextItems: true, WouldBlockThreshold: 0.8,
		}),
		logOnly("debug", models.LogOnlyConfig{
			LogLevel: "debug", LogFullEvidence: true,
			AddResponseHeaders: true, IncludeDetailedHeaders: true,
		}),
		logOnly("rate-limit-headers", models.LogOnlyConfig{
			AddResponseHeaders: true, ActionMarker: "rate-limit-headers",
		}),

		// Marker policies: the engine continues, downstream middleware
		// reads the marker from the context and mutates its own behavior.
		logOnly("degrade", models.LogOnlyConfig{
			AddToContextItems: true, ActionMarker: "degrade", WouldBlockThreshold: 0.8,
		}),
		logOnly("quarantine", models.LogOnlyConfig{
			AddToContextItems: true, ActionMarker: "quarantine", WouldBlockThreshold: 0.8,
		}),
		logOnly("sandbox", models.LogOnlyConfig{
			AddToContextItems: true, ActionMarker: "sandbox", WouldBlockThreshold: 0.8,
			SandboxPolicy: "sandbox-default", SandboxSampleRate: 0.1,
		}),
		logOnly("mask-pii", models.LogOnlyConfig{
			AddToContextItems: true, ActionMarker: "mask-pii",
		}),
		logOnly("strip-pii", models.LogOnlyConfig{
			AddToContextItems: true, ActionMarker: "strip-pii",
		}),
	}
}
