package models

// ActionType discriminates the action policy union. The registry stores the
// union; the dispatcher switches on the tag.
type ActionType string

const (
	ActionBlock          ActionType = "Block"
	ActionThrottle       ActionType = "Throttle"
	ActionChallenge      ActionType = "Challenge"
	ActionRedirect       ActionType = "Redirect"
	ActionLogOnly        ActionType = "LogOnly"
	ActionResponseMutate ActionType = "ResponseMutate"
)

// ChallengeType selects how a Challenge policy confronts the client.
type ChallengeType string

const (
	ChallengeRedirect    ChallengeType = "Redirect"
	ChallengeInline      ChallengeType = "Inline"
	ChallengeJavaScript  ChallengeType = "JavaScript"
	ChallengeCaptcha     ChallengeType = "Captcha"
	ChallengeProofOfWork ChallengeType = "ProofOfWork"
)

// ActionPolicyConfig is the discriminated policy record. Type is the tag;
// exactly one of the per-type field groups is consulted by the dispatcher.
type ActionPolicyConfig struct {
	Type        ActionType        `json:"type" yaml:"type"`
	Name        string            `json:"name" yaml:"name"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Block     *BlockConfig     `json:"block,omitempty" yaml:"block,omitempty"`
	Throttle  *ThrottleConfig  `json:"throttle,omitempty" yaml:"throttle,omitempty"`
	Challenge *ChallengeConfig `json:"challenge,omitempty" yaml:"challenge,omitempty"`
	Redirect  *RedirectConfig  `json:"redirect,omitempty" yaml:"redirect,omitempty"`
	LogOnly   *LogOnlyConfig   `json:"logOnly,omitempty" yaml:"log_only,omitempty"`
}

// BlockConfig terminates the request with a refusal response.
type BlockConfig struct {
	StatusCode       int               `json:"statusCode" yaml:"status_code"`
	Message          string            `json:"message" yaml:"message"`
	ContentType      string            `json:"contentType,omitempty" yaml:"content_type,omitempty"`
	ExtraHeaders     map[string]string `json:"extraHeaders,omitempty" yaml:"extra_headers,omitempty"`
	IncludeRiskScore bool              `json:"includeRiskScore,omitempty" yaml:"include_risk_score,omitempty"`
	WriteRawMessage  bool              `json:"writeRawMessage,omitempty" yaml:"write_raw_message,omitempty"`
}

// ThrottleConfig delays the request, optionally scaled by risk and by
// per-signature repeat count.
type ThrottleConfig struct {
	BaseDelayMs        int     `json:"baseDelayMs" yaml:"base_delay_ms"`
	MinDelayMs         int     `json:"minDelayMs" yaml:"min_delay_ms"`
	MaxDelayMs         int     `json:"maxDelayMs" yaml:"max_delay_ms"`
	Jitter             float64 `json:"jitter,omitempty" yaml:"jitter,omitempty"` // 0..1 fraction of the delay
	ScaleByRisk        bool    `json:"scaleByRisk,omitempty" yaml:"scale_by_risk,omitempty"`
	ExponentialBackoff bool    `json:"exponentialBackoff,omitempty" yaml:"exponential_backoff,omitempty"`
	BackoffFactor      float64 `json:"backoffFactor,omitempty" yaml:"backoff_factor,omitempty"`
	ReturnStatus       int     `json:"returnStatus,omitempty" yaml:"return_status,omitempty"` // 0 = delay then continue
	IncludeHeaders     bool    `json:"includeHeaders,omitempty" yaml:"include_headers,omitempty"`
	IncludeRetryAfter  bool    `json:"includeRetryAfter,omitempty" yaml:"include_retry_after,omitempty"`
}

// ChallengeConfig confronts the client with a solvable barrier. A valid
// signed token cookie bypasses the challenge entirely.
type ChallengeConfig struct {
	ChallengeType     ChallengeType `json:"challengeType" yaml:"challenge_type"`
	ChallengeURL      string        `json:"challengeUrl,omitempty" yaml:"challenge_url,omitempty"`
	TokenSecret       string        `json:"tokenSecret" yaml:"token_secret"`
	TokenCookieName   string        `json:"tokenCookieName,omitempty" yaml:"token_cookie_name,omitempty"`
	TokenValidityMins int           `json:"tokenValidityMins,omitempty" yaml:"token_validity_mins,omitempty"`
	CaptchaSiteKey    string        `json:"captchaSiteKey,omitempty" yaml:"captcha_site_key,omitempty"`
	Title             string        `json:"title,omitempty" yaml:"title,omitempty"`
	Message           string        `json:"message,omitempty" yaml:"message,omitempty"`
}

// RedirectConfig sends the client elsewhere. The target URL may carry the
// template placeholders {risk}, {riskBand}, {policy} and {originalPath}.
type RedirectConfig struct {
	TargetURL     string `json:"targetUrl" yaml:"target_url"`
	Permanent     bool   `json:"permanent,omitempty" yaml:"permanent,omitempty"` // 301 instead of 302
	PreserveQuery bool   `json:"preserveQuery,omitempty" yaml:"preserve_query,omitempty"`
	IncludeReturn bool   `json:"includeReturn,omitempty" yaml:"include_return,omitempty"`
	AddMetadata   bool   `json:"addMetadata,omitempty" yaml:"add_metadata,omitempty"`
}

// LogOnlyConfig observes without interfering: logs the verdict, optionally
// annotates the response and hands shadow-mode markers to downstream
// middleware through the request context.
type LogOnlyConfig struct {
	LogLevel               string  `json:"logLevel,omitempty" yaml:"log_level,omitempty"`
	LogFullEvidence        bool    `json:"logFullEvidence,omitempty" yaml:"log_full_evidence,omitempty"`
	AddResponseHeaders     bool    `json:"addResponseHeaders,omitempty" yaml:"add_response_headers,omitempty"`
	IncludeDetailedHeaders bool    `json:"includeDetailedHeaders,omitempty" yaml:"include_detailed_headers,omitempty"`
	AddToContextItems      bool    `json:"addToContextItems,omitempty" yaml:"add_to_context_items,omitempty"`
	WouldBlockThreshold    float64 `json:"wouldBlockThreshold,omitempty" yaml:"would_block_threshold,omitempty"`
	ActionMarker           string  `json:"actionMarker,omitempty" yaml:"action_marker,omitempty"`
	SandboxPolicy          string  `json:"sandboxPolicy,omitempty" yaml:"sandbox_policy,omitempty"`
	SandboxSampleRate      float64 `json:"sandboxSampleRate,omitempty" yaml:"sandbox_sample_rate,omitempty"`
}

// ActionResult reports what the dispatcher did to the response. When
// Continue is false the response has been fully written and the request
// short-circuits.
type ActionResult struct {
	Continue    bool              `json:"continue"`
	StatusCode  int               `json:"statusCode,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
