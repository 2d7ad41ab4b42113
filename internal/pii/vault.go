package pii

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// ──────────────────────────────────────────────────────────────────────
// PII Vault
//
// Short-lived, per-request container of raw identifying data. Raw values
// never leave the vault: the only export path is Digest, a keyed one-way
// hash. Clear must run on every request exit path — the pack entry point
// defers it unconditionally.
// ──────────────────────────────────────────────────────────────────────

// GeoLocation is the optional coarse location attached to a PII record by
// a geo-capable detector.
type GeoLocation struct {
	Country  string  `json:"country,omitempty"`
	Region   string  `json:"region,omitempty"`
	City     string  `json:"city,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	Timezone string  `json:"timezone,omitempty"`
}

// Data is the raw identifying surface of one request.
type Data struct {
	ClientIP       string
	UserAgent      string
	AcceptLanguage string
	Referer        string
	SessionID      string
	Geo            *GeoLocation
}

// Vault maps request IDs to their PII records. Entries are written once by
// the hydrator and read-only thereafter.
type Vault struct {
	mu      sync.RWMutex
	entries map[string]*Data
	salt    []byte
}

// NewVault creates a vault with a random per-process digest salt. The salt
// is regenerated on restart, so digests are stable within a process
// lifetime only — long enough to correlate, never to re-identify later.
func NewVault() *Vault {
	salt := make([]byte, 32)
	_, _ = rand.Read(salt)
	return &Vault{entries: make(map[string]*Data), salt: salt}
}

// Store installs the PII record for a request. O(1).
func (v *Vault) Store(requestID string, data *Data) {
	v.mu.Lock()
	v.entries[requestID] = data
	v.mu.Unlock()
}

// Get returns the PII record for a request, or nil if absent. O(1).
func (v *Vault) Get(requestID string) *Data {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.entries[requestID]
}

// Clear removes a request's PII record. O(1). Idempotent.
func (v *Vault) Clear(requestID string) {
	v.mu.Lock()
	delete(v.entries, requestID)
	v.mu.Unlock()
}

// Len returns the number of live entries, for leak checks in tests.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Digest is the only sanctioned way a PII value may appear outside the
// vault: a salted HMAC-SHA256 hex digest. Same input, same digest, for the
// lifetime of the process.
func (v *Vault) Digest(value string) string {
	mac := hmac.New(sha256.New, v.salt)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// ShortDigest returns the first 16 hex characters of Digest, used for
// signature keys and compact diagnostics.
func (v *Vault) ShortDigest(value string) string {
	return v.Digest(value)[:16]
}
