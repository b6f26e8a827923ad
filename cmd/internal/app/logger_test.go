package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandlerSelectsFormat(t *testing.T) {
	var buf bytes.Buffer

	log := slog.New(newHandler(&buf, "debug", "json"))
	log.Debug("presence.broadcast", "count", 2)
	if !strings.Contains(buf.String(), `"msg":"presence.broadcast"`) {
		t.Fatalf("json output=%q", buf.String())
	}

	buf.Reset()
	t.Setenv("NO_COLOR", "1")
	log = slog.New(newHandler(&buf, "warn", "PRETTY"))
	log.Info("dropped")
	log.Warn("presence.reaper.evict", "user_id", "u1")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should be filtered at warn: %q", out)
	}
	if !strings.Contains(out, "lvl=[WARN] msg=presence.reaper.evict") || !strings.Contains(out, "user_id=u1") {
		t.Fatalf("pretty output=%q", out)
	}
}
