package models

// AggregatedEvidence is the immutable verdict snapshot built from a
// detection ledger. This is what the signature coordinator records, what
// escalation subscribers see, and what the action dispatcher acts on.
type AggregatedEvidence struct {
	RequestID             string                   `json:"requestId"`
	BotProbability        float64                  `json:"botProbability"` // 0.0 (human) to 1.0 (bot)
	Confidence            float64                  `json:"confidence"`     // 0.0 (no evidence) to 1.0 (saturated)
	RiskBand              RiskBand                 `json:"riskBand"`
	IsBot                 bool                     `json:"isBot"`
	EarlyExit             EarlyExitVerdict         `json:"earlyExit,omitempty"`
	PrimaryBotType        string                   `json:"primaryBotType,omitempty"`
	PrimaryBotName        string                   `json:"primaryBotName,omitempty"`
	ProcessingTimeMs      float64                  `json:"processingTimeMs"`
	TopReasons            []Contribution           `json:"topReasons,omitempty"`
	CategoryBreakdown     map[string]CategoryScore `json:"categoryBreakdown,omitempty"`
	ContributingDetectors []string                 `json:"contributingDetectors,omitempty"`
	FailedDetectors       []string                 `json:"failedDetectors,omitempty"`
	Signals               map[string]string        `json:"signals,omitempty"` // Merged signal view
}

// Unverdicted builds the safe fallback evidence used when the pipeline
// cannot form a verdict: indistinguishable from the no-detection case.
func Unverdicted(requestID, errMsg string) AggregatedEvidence {
	ev := AggregatedEvidence{
		RequestID:      requestID,
		BotProbability: 0.5,
		Confidence:     0,
		RiskBand:       BandUnknown,
		Signals:        map[string]string{},
	}
	if errMsg != "" {
		ev.Signals["error"] = errMsg
	}
	return ev
}
