package main

import (
	"context"
	"log"
	"net"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/rawblock/botwall-engine/internal/action"
	"github.com/rawblock/botwall-engine/internal/api"
	"github.com/rawblock/botwall-engine/internal/config"
	"github.com/rawblock/botwall-engine/internal/db"
	"github.com/rawblock/botwall-engine/internal/detect"
	"github.com/rawblock/botwall-engine/internal/engine"
	"github.com/rawblock/botwall-engine/internal/escalate"
	"github.com/rawblock/botwall-engine/internal/signature"
	"github.com/rawblock/botwall-engine/pkg/models"
)

func main() {
	log.Println("Starting Botwall Detection Engine (gateway: botwall-engine)...")

	cfgPath := getEnvOrDefault("BOTWALL_CONFIG", "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("Warning: could not load %s (%v), running on built-in defaults", cfgPath, err)
		cfg = config.Default()
	}

	// ─── Optional external stores ───────────────────────────────────────
	// The engine serves traffic without either of them; Postgres adds the
	// durable detection trail, Redis shares signature state across
	// replicas.
	// ────────────────────────────────────────────────────────────────────

	var store *db.PostgresStore
	if dbURL := getEnvOrDefault("DATABASE_URL", cfg.Postgres.URL); dbURL != "" {
		store, err = db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting detection data. Error: %v", err)
			store = nil
		} else {
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	}

	var mirror *signature.RedisMirror
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror = signature.NewRedisMirror(client, cfg.Redis.HashKey, cfg.Signatures.TTL()*2, 0)
		log.Printf("Signature mirror enabled: redis %s", cfg.Redis.Addr)
	}

	sigs := signature.NewCoordinator(signature.Config{
		MaxEntries:    cfg.Signatures.MaxEntries,
		TTL:           cfg.Signatures.TTL(),
		Alpha:         cfg.Signatures.Alpha,
		HistoryLength: cfg.Signatures.HistoryLength,
		Mirror:        mirror,
	})
	defer sigs.Close()

	// ─── Escalation boundary ────────────────────────────────────────────

	esc := escalate.NewEscalator(cfg.Escalation.QueueCapacity)
	defer esc.Close()

	telemetry := escalate.NewTelemetry(nil)
	esc.Subscribe(telemetry)

	webhooks := escalate.NewWebhookNotifier(cfg.Escalation.WebhookMaxPerSecond)
	for _, wh := range cfg.Escalation.Webhooks {
		webhooks.Register(escalate.WebhookEndpoint{
			Name:    wh.Name,
			URL:     wh.URL,
			Enabled: true,
			Headers: wh.Headers,
			MinBand: models.RiskBand(wh.MinBand),
		})
	}
	esc.Subscribe(webhooks)

	recent := api.NewRecentBuffer(256)
	esc.Subscribe(recent)

	wsHub := api.NewHub()
	go wsHub.Run()
	esc.Subscribe(api.NewFeed(wsHub))

	if store != nil {
		esc.Subscribe(db.NewSink(store, sigs.Get))
	}

	// ─── Detector catalogue ─────────────────────────────────────────────

	detectors := detect.NewRegistry()
	detectors.Register(detect.NewUAAnalyzer())
	detectors.Register(detect.NewHeaderChecker())
	detectors.Register(detect.NewIPAnalyzer(detect.IPAnalyzerConfig{
		DynamicCIDRs: cidrsFromConfig(cfg, "ip_analyzer", "dynamic_cidrs"),
	}))
	detectors.Register(detect.NewIPAllowlist(cidrsFromConfig(cfg, "ip_allowlist", "cidrs")))
	detectors.Register(detect.NewIPBlocklist(cidrsFromConfig(cfg, "ip_blocklist", "cidrs")))
	detectors.Register(detect.NewPathProbe())
	detectors.Register(detect.NewToolCorrelator())
	detectors.Register(detect.NewGoodBotVerifier(reverseDNS))

	var reputation detect.ReputationClient
	if key := cfg.Detectors["honeypot"].Parameters["access_key"]; key != "" {
		reputation = detect.NewHTTPBLClient(key)
	} else {
		log.Println("Warning: no http:BL access key configured, honeypot detector will idle")
	}
	detectors.Register(detect.NewHoneypot(detect.HoneypotConfig{Client: reputation}))

	for name, dp := range cfg.DetectionPolicies {
		detectors.RegisterPolicy(detect.DetectionPolicy{
			Name:          name,
			Enabled:       dp.Enabled,
			Detectors:     dp.Detectors,
			ActionMapping: dp.ActionMapping,
			Parameters:    dp.Parameters,
		})
	}

	// ─── Action policies ────────────────────────────────────────────────

	actions := action.NewRegistry()
	for _, pc := range cfg.ActionPolicies {
		if err := actions.Register(pc); err != nil {
			log.Printf("[Config] Skipping invalid action policy %q: %v", pc.Name, err)
		}
	}

	// ─── Engine ─────────────────────────────────────────────────────────

	eng := engine.New(engine.Config{
		DetectionPolicy: cfg.Server.DetectionPolicy,
		Orchestrator: detect.OrchestratorConfig{
			ParallelWaveExecution:     cfg.Orchestrator.ParallelWaveExecution,
			EnableQuorumExit:          cfg.Orchestrator.EnableQuorumExit,
			QuorumConfidenceThreshold: cfg.Orchestrator.QuorumConfidenceThreshold,
			Timeout:                   cfg.Orchestrator.Timeout(),
		},
		SignalCapacity: cfg.Orchestrator.MaxSignalCapacity,
		SignalMaxAge:   cfg.Orchestrator.SignalRetention(),
	}, detectors, actions, sigs, esc, telemetry)

	// The cadence detector closes over the engine's key derivation, so it
	// registers after the engine exists. Per-detector overrides apply last.
	detectors.Register(detect.NewBehaviorDetector(detect.BehaviorConfig{
		Lookup: sigs.Get,
		KeyFor: eng.SignatureKeyFor,
	}))
	detectors.Configure(detectorSettings(cfg))

	// ─── Ops API ────────────────────────────────────────────────────────

	opsRouter := api.SetupRouter(api.Options{
		Token:      cfg.Server.APIToken,
		RatePerMin: cfg.Server.RateLimitPerMin,
	}, sigs, webhooks, recent, store, esc, wsHub)

	go func() {
		log.Printf("Ops API listening on %s", cfg.Server.OpsAddr)
		if err := opsRouter.Run(cfg.Server.OpsAddr); err != nil {
			log.Fatalf("Failed to start ops API: %v", err)
		}
	}()

	// ─── Gateway ────────────────────────────────────────────────────────

	upstream := getEnvOrDefault("UPSTREAM_URL", cfg.Server.UpstreamURL)
	if upstream == "" {
		log.Fatalf("FATAL: no upstream configured. Set server.upstream_url in %s or the UPSTREAM_URL environment variable.", cfgPath)
	}
	target, err := url.Parse(upstream)
	if err != nil {
		log.Fatalf("FATAL: invalid upstream URL %q: %v", upstream, err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)

	gw := gin.New()
	gw.Use(gin.Recovery())
	gw.Use(eng.Middleware())
	gw.NoRoute(func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	})

	log.Printf("Gateway proxying to %s on %s (detection policy: %q)", upstream, cfg.Server.ListenAddr, cfg.Server.DetectionPolicy)
	if err := gw.Run(cfg.Server.ListenAddr); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}
}

// reverseDNS is the production PTR lookup used by the good-bot verifier.
func reverseDNS(ctx context.Context, ip string) (string, error) {
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// cidrsFromConfig builds a CIDR set from a detector's comma-separated
// parameter. Invalid entries are logged and skipped.
func cidrsFromConfig(cfg *config.Config, detector, param string) *detect.CIDRSet {
	set, _ := detect.NewCIDRSet(nil)
	raw := cfg.Detectors[detector].Parameters[param]
	if raw == "" {
		return set
	}
	for _, c := range strings.Split(raw, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if err := set.Add(c); err != nil {
			log.Printf("[Config] Detector %s: %v", detector, err)
		}
	}
	return set
}

// detectorSettings converts the config section into registry overrides.
func detectorSettings(cfg *config.Config) map[string]detect.Settings {
	out := make(map[string]detect.Settings, len(cfg.Detectors))
	for name, dc := range cfg.Detectors {
		out[name] = detect.Settings{
			Enabled:   dc.Enabled,
			Priority:  dc.Priority,
			TimeoutMs: dc.TimeoutMs,
		}
	}
	return out
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
