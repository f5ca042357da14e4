package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInitLevel(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		debugShown bool
		infoShown  bool
	}{
		{"debug", "debug", true, true},
		{"info", "info", false, true},
		{"error", "error", false, false},
		{"invalid falls back to info", "loud", false, true},
		{"empty falls back to info", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Init(Config{Level: tt.level, Output: &buf})
			t.Cleanup(func() { Init(DefaultConfig()) })

			Debug().Msg("debug message")
			if got := strings.Contains(buf.String(), "debug message"); got != tt.debugShown {
				t.Errorf("debug shown = %v, expected %v", got, tt.debugShown)
			}

			Info().Msg("info message")
			if got := strings.Contains(buf.String(), "info message"); got != tt.infoShown {
				t.Errorf("info shown = %v, expected %v", got, tt.infoShown)
			}
		})
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	log := WithRun("run-123")
	log.Info().Str("stage", "extract").Msg("Stage complete")

	var event map[string]any
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if event["run_id"] != "run-123" {
		t.Errorf("run_id = %v, expected run-123", event["run_id"])
	}
	if event["stage"] != "extract" {
		t.Errorf("stage = %v, expected extract", event["stage"])
	}
}
