package models

import "time"

// RequestCompleteSignal is published after the request-side analysis of
// every inspected request. TriggerSignals carries the merged signal names
// that fired, keyed by name with the coerced value (or "true" for markers).
type RequestCompleteSignal struct {
	Signature      string            `json:"signature"`
	RequestID      string            `json:"requestId"`
	Timestamp      time.Time         `json:"timestamp"`
	Risk           float64           `json:"risk"`
	RiskBand       RiskBand          `json:"riskBand"`
	Honeypot       bool              `json:"honeypot"`
	Datacenter     bool              `json:"datacenter,omitempty"`
	Path           string            `json:"path,omitempty"`
	Method         string            `json:"method,omitempty"`
	Action         string            `json:"action,omitempty"`
	TriggerSignals map[string]string `json:"triggerSignals,omitempty"`
}

// OperationCompleteSignal extends RequestCompleteSignal with response-side
// analysis, available once the downstream handler has written its response.
type OperationCompleteSignal struct {
	RequestCompleteSignal

	StatusCode    int     `json:"statusCode"`
	ResponseBytes int64   `json:"responseBytes"`
	ResponseScore float64 `json:"responseScore"`
	CombinedScore float64 `json:"combinedScore"`
}
