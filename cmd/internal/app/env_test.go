package app

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PARLEY_TEST_STR", "  value ")
	t.Setenv("PARLEY_TEST_BOOL", "nope")
	t.Setenv("PARLEY_TEST_INT", "-3")
	t.Setenv("PARLEY_TEST_DUR", "250ms")
	t.Setenv("PARLEY_TEST_LIST", " a, ,b ,")

	if got := EnvString("PARLEY_TEST_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvBool("PARLEY_TEST_BOOL", true); !got {
		t.Fatalf("EnvBool should fall back on parse error")
	}
	if got := EnvInt("PARLEY_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt=%d want default for non-positive", got)
	}
	if got := EnvDuration("PARLEY_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvList("PARLEY_TEST_LIST", nil); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("EnvList=%v", got)
	}
	if got := EnvList("PARLEY_TEST_MISSING", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Fatalf("EnvList default=%v", got)
	}
}

func TestLoadConfigPresenceOverrides(t *testing.T) {
	t.Setenv("PARLEY_INACTIVITY_TIMEOUT", "90s")
	t.Setenv("PARLEY_BROADCAST_CONNECT_DELAY", "50ms")
	t.Setenv("PARLEY_AUTH_REQUIRE_TOKEN", "false")

	cfg := LoadConfig()
	if cfg.Presence.InactivityTimeout != 90*time.Second {
		t.Fatalf("InactivityTimeout=%v", cfg.Presence.InactivityTimeout)
	}
	if cfg.Presence.ConnectDelay != 50*time.Millisecond {
		t.Fatalf("ConnectDelay=%v", cfg.Presence.ConnectDelay)
	}
	if cfg.Presence.ReaperInterval != 60*time.Second || cfg.MirrorTimeout != 30*time.Second {
		t.Fatalf("defaults not applied: reaper=%v mirror=%v", cfg.Presence.ReaperInterval, cfg.MirrorTimeout)
	}
	if cfg.RequireToken {
		t.Fatalf("RequireToken override ignored")
	}
}
