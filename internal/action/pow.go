package action

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────
// Proof-of-Work Challenge
//
// The cheapest CAPTCHA there is: the server hands out a random 128-bit
// hex challenge and a difficulty; the client burns CPU finding a nonce
// whose SHA-256(challenge || nonce) starts with that many hex zeros.
// Verification costs the server exactly one hash.
//
// Difficulty scales with risk: 3 + round((risk - 0.5) × 4), clamped to
// [3, 7]. A borderline client solves in milliseconds; a near-certain bot
// pays seconds per request, which breaks scraping economics.
// ──────────────────────────────────────────────────────────────────────

// PowChallenge is the puzzle handed to the client.
type PowChallenge struct {
	Challenge  string `json:"challenge"`
	Difficulty int    `json:"difficulty"`
}

// NewPowChallenge mints a puzzle scaled to the risk score.
func NewPowChallenge(risk float64) PowChallenge {
	buf := make([]byte, 16)
	rand.Read(buf)
	return PowChallenge{
		Challenge:  hex.EncodeToString(buf),
		Difficulty: PowDifficulty(risk),
	}
}

// PowDifficulty maps a risk score to leading-zero count.
func PowDifficulty(risk float64) int {
	d := 3 + int(math.Round((risk-0.5)*4))
	if d < 3 {
		d = 3
	}
	if d > 7 {
		d = 7
	}
	return d
}

// VerifyPow checks a submitted solution with a single hash.
func VerifyPow(challenge, nonce string, difficulty int) bool {
	sum := sha256.Sum256([]byte(challenge + nonce))
	return strings.HasPrefix(hex.EncodeToString(sum[:]), strings.Repeat("0", difficulty))
}
