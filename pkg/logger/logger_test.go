package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestInitLoggerJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	prev := log.Logger
	defer func() { log.Logger = prev }()

	var buf bytes.Buffer
	initLogger(&buf, "warn", false)
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", zerolog.GlobalLevel())
	}
	buf.Reset()
	log.Info().Msg("hidden")
	log.Warn().Str("peer", "a").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["message"] != "shown" || entry["peer"] != "a" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("expected a timestamp")
	}
}

func TestInitLoggerPretty(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	prev := log.Logger
	defer func() { log.Logger = prev }()

	var buf bytes.Buffer
	initLogger(&buf, "info", true)
	if !strings.Contains(buf.String(), "Logger initialized") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
	if strings.HasPrefix(buf.String(), "{") {
		t.Fatal("expected console format, got json")
	}
}
