package pii

import "testing"

func TestStoreGetClear(t *testing.T) {
	v := NewVault()
	v.Store("req1", &Data{ClientIP: "203.0.113.7", UserAgent: "curl/8.0.1"})

	got := v.Get("req1")
	if got == nil || got.ClientIP != "203.0.113.7" {
		t.Fatalf("Expected stored record back, got %+v", got)
	}

	v.Clear("req1")
	if v.Get("req1") != nil {
		t.Errorf("Expected record removed after Clear")
	}
	if v.Len() != 0 {
		t.Errorf("Expected empty vault, got %d entries", v.Len())
	}

	// Clear must be idempotent — it runs on every exit path.
	v.Clear("req1")
}

func TestDigestStableAndOpaque(t *testing.T) {
	v := NewVault()
	d1 := v.Digest("203.0.113.7")
	d2 := v.Digest("203.0.113.7")
	if d1 != d2 {
		t.Errorf("Digest must be stable within a process")
	}
	if d1 == "203.0.113.7" || len(d1) != 64 {
		t.Errorf("Digest must be an opaque 64-char hex string, got %q", d1)
	}

	other := NewVault()
	if other.Digest("203.0.113.7") == d1 {
		t.Errorf("Digests must differ across vault salts")
	}
}

func TestShortDigestLength(t *testing.T) {
	v := NewVault()
	if got := v.ShortDigest("Mozilla/5.0"); len(got) != 16 {
		t.Errorf("Expected 16-char short digest, got %d chars", len(got))
	}
}
