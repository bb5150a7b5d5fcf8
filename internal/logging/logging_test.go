package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWithWriter(DefaultConfig(), &buf), "relay")
	log.Info().Msg("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "relay" || line["message"] != "hello" {
		t.Errorf("Unexpected line: %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("Expected timestamp field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)
	log.Info().Msg("dropped")
	log.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Errorf("Unexpected output: %q", out)
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "loud"}, &buf)
	log.Debug().Msg("debug")
	log.Info().Msg("info")

	out := buf.String()
	if strings.Contains(out, "debug") || !strings.Contains(out, "info") {
		t.Errorf("Unexpected output: %q", out)
	}
}
