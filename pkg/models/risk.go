package models

// RiskBand is the discretisation of bot probability into seven ordered
// buckets, plus Unknown for the no-verdict path.
type RiskBand string

const (
	BandVeryLow  RiskBand = "VeryLow"
	BandLow      RiskBand = "Low"
	BandElevated RiskBand = "Elevated"
	BandMedium   RiskBand = "Medium"
	BandHigh     RiskBand = "High"
	BandVeryHigh RiskBand = "VeryHigh"
	BandVerified RiskBand = "Verified" // Set only by early-exit override
	BandUnknown  RiskBand = "Unknown"  // Set only by the error path
)

// BandForProbability maps a bot probability onto its risk band using the
// fixed thresholds. Verified and Unknown are never returned here — they are
// reserved for the override and error paths respectively.
func BandForProbability(p float64) RiskBand {
	switch {
	case p < 0.20:
		return BandVeryLow
	case p < 0.40:
		return BandLow
	case p < 0.60:
		return BandElevated
	case p < 0.80:
		return BandMedium
	case p < 0.95:
		return BandHigh
	default:
		return BandVeryHigh
	}
}

// EarlyExitVerdict short-circuits the remainder of the detection pipeline.
type EarlyExitVerdict string

const (
	ExitNone            EarlyExitVerdict = ""
	ExitVerifiedBadBot  EarlyExitVerdict = "VerifiedBadBot"
	ExitVerifiedGoodBot EarlyExitVerdict = "VerifiedGoodBot"
	ExitWhitelisted     EarlyExitVerdict = "Whitelisted"
	ExitBlacklisted     EarlyExitVerdict = "Blacklisted"
)

// IsBotVerdict reports whether the verdict marks the client as a confirmed bot.
func (v EarlyExitVerdict) IsBotVerdict() bool {
	return v == ExitVerifiedBadBot || v == ExitBlacklisted
}

// IsHumanVerdict reports whether the verdict marks the client as confirmed
// human (or an allowed good bot).
func (v EarlyExitVerdict) IsHumanVerdict() bool {
	return v == ExitVerifiedGoodBot || v == ExitWhitelisted
}
