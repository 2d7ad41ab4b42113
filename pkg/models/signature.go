package models

import "time"

// HistoryLength is the default bound on the rolling per-signature sparkline
// buffers (one sample per observed request, newest last).
const HistoryLength = 60

// SignatureState is the rolling cross-request view of one client signature.
// Owned by the signature coordinator; snapshots of it are handed to the
// dashboard API and the persistence sink.
type SignatureState struct {
	PrimarySignature string           `json:"primarySignature"`
	HitCount         int64            `json:"hitCount"`
	BotProbability   float64          `json:"botProbability"` // EMA-smoothed
	Confidence       float64          `json:"confidence"`     // EMA-smoothed
	RiskBand         RiskBand         `json:"riskBand"`
	FirstSeen        time.Time        `json:"firstSeen"`
	LastSeen         time.Time        `json:"lastSeen"`
	BotName          string           `json:"botName,omitempty"`
	BotType          string           `json:"botType,omitempty"`
	LastPath         string           `json:"lastPath,omitempty"`
	PathCounts       map[string]int64 `json:"pathCounts,omitempty"`

	// Short-window histories for the dashboard sparklines.
	ProbabilityHistory    []float64 `json:"probabilityHistory,omitempty"`
	ConfidenceHistory     []float64 `json:"confidenceHistory,omitempty"`
	ProcessingTimeHistory []float64 `json:"processingTimeHistory,omitempty"`
}
