package models

// Contribution is a single piece of evidence a detector submits for fusion.
// ConfidenceDelta is signed: positive values are bot evidence, negative
// values are human evidence. Weight scales the contribution's importance
// relative to the other detectors when fusing.
type Contribution struct {
	DetectorName    string            `json:"detectorName"`
	Category        string            `json:"category"` // Free-form grouping key ("UserAgent", "Network", ...)
	ConfidenceDelta float64           `json:"confidenceDelta"`
	Weight          float64           `json:"weight"`
	Reason          string            `json:"reason"`
	EarlyExit       EarlyExitVerdict  `json:"earlyExit,omitempty"`
	BotType         string            `json:"botType,omitempty"`
	BotName         string            `json:"botName,omitempty"`
	Signals         map[string]string `json:"signals,omitempty"` // Contributory diagnostics
}

// Score is the fusion salience of the contribution: the magnitude of its
// evidence mass. Used for bot-name election and top-reasons ordering.
func (c Contribution) Score() float64 {
	d := c.ConfidenceDelta
	if d < 0 {
		d = -d
	}
	return d * c.Weight
}

// CategoryScore accumulates the signed evidence and total weight one
// category contributed to a verdict.
type CategoryScore struct {
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}
