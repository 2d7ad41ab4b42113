package action

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ──────────────────────────────────────────────────────────────────────
// Challenge Token
//
// A solved challenge earns the client a signed cookie so it is not
// challenged again until expiry. Wire format, exact:
//
//   base64( "<expiry_unix_seconds>:<hex_lower_hmac_sha256>" )
//
// where the HMAC key is the policy's token secret and the message is the
// ASCII expiry. Verification decodes, splits on the first colon, rejects
// past expiries, recomputes the MAC and compares in constant time.
// ──────────────────────────────────────────────────────────────────────

// DefaultTokenCookie names the challenge token cookie when the policy
// leaves it unset.
const DefaultTokenCookie = "botwall_challenge"

// IssueToken mints a token valid for the given duration.
func IssueToken(secret string, validity time.Duration) string {
	expiry := strconv.FormatInt(time.Now().Add(validity).Unix(), 10)
	return base64.StdEncoding.EncodeToString([]byte(expiry + ":" + sign(secret, expiry)))
}

// VerifyToken reports whether the token is authentic and unexpired.
// Malformed, tampered and expired tokens are all simply invalid — the
// caller treats them as an absent token.
func VerifyToken(secret, token string) bool {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	expiry, mac, ok := strings.Cut(string(raw), ":")
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || time.Now().Unix() >= exp {
		return false
	}
	expected := sign(secret, expiry)
	return subtle.ConstantTimeCompare([]byte(mac), []byte(expected)) == 1
}

func sign(secret, expiry string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(expiry))
	return hex.EncodeToString(mac.Sum(nil))
}
