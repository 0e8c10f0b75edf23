package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsAndHashes(t *testing.T) {
	kv := sanitizeKVs([]interface{}{
		"payload", []byte("secret share"),
		"tracking_id", "trk-1",
		"operation", "choice_codes_decryption",
		"partial", []byte{1, 2, 3},
	})
	if len(kv) != 8 {
		t.Fatalf("len: want=8 got=%d", len(kv))
	}
	if kv[1] != "[REDACTED]" {
		t.Fatalf("payload: want=[REDACTED] got=%v", kv[1])
	}
	hashed, _ := kv[3].(string)
	if !strings.HasPrefix(hashed, "hash:") || strings.Contains(hashed, "trk-1") {
		t.Fatalf("tracking_id not hashed: %v", kv[3])
	}
	if kv[5] != "choice_codes_decryption" {
		t.Fatalf("operation: got=%v", kv[5])
	}
	if kv[7] != "[3 bytes]" {
		t.Fatalf("partial: want=[3 bytes] got=%v", kv[7])
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	kv := sanitizeKVs([]interface{}{"operation", "x", "dangling"})
	if len(kv) != 3 || kv[2] != "dangling" {
		t.Fatalf("unexpected kv: %v", kv)
	}
}

func TestRedactorDisabledPassesThrough(t *testing.T) {
	r := &redactor{}
	kv := []interface{}{"payload", []byte("x")}
	if got := r.kvs(kv); len(got) != 2 || got[0] != "payload" {
		t.Fatalf("disabled redactor changed kv: %v", got)
	}
}

func TestRedactorDigestIsSaltedAndStable(t *testing.T) {
	a := &redactor{salt: "s1"}
	b := &redactor{salt: "s2"}
	if a.digest("trk") != a.digest("trk") {
		t.Fatalf("digest not stable")
	}
	if a.digest("trk") == b.digest("trk") {
		t.Fatalf("salt ignored")
	}
	if got := a.digest("trk"); len(got) != len("hash:")+12 {
		t.Fatalf("digest length: %q", got)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	if _, err := New("development"); err == nil {
		t.Fatalf("bad LOG_LEVEL accepted")
	}
	t.Setenv("LOG_LEVEL", "error")
	if _, err := New("development"); err != nil {
		t.Fatalf("New: %v", err)
	}
}
