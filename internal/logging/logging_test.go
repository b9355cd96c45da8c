package logging

import "testing"

func TestRedactSensitiveKeys(t *testing.T) {
	kv := []any{"email", "dana@example.com", "week", 3, "api_key", "pk_live_abc"}
	got := redact(kv)
	if got[1] != "[REDACTED]" {
		t.Fatalf("email value = %v, want redacted", got[1])
	}
	if got[3] != 3 {
		t.Fatalf("plain value = %v, want untouched", got[3])
	}
	if got[5] != "[REDACTED]" {
		t.Fatalf("api key value = %v, want redacted", got[5])
	}
	// original slice stays intact
	if kv[1] != "dana@example.com" {
		t.Fatal("redact mutated its input")
	}
}

func TestRedactOddPairs(t *testing.T) {
	kv := []any{"dangling"}
	if got := redact(kv); len(got) != 1 || got[0] != "dangling" {
		t.Fatalf("odd kv list mangled: %v", got)
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	l := Nop()
	l.Info("quiet", "email", "a@b.c")
	l.With("session_id", "s1").Warn("still quiet")
	l.Sync()
}
