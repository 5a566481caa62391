package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewToWritesServiceField(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewTo(&buf, "production", "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info().Str("run_id", "r1").Msg("curation run complete")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["service"] != "curator" || entry["run_id"] != "r1" || entry["level"] != "info" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestNewToRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := NewTo(&bytes.Buffer{}, "local", "loud"); err == nil {
		t.Fatalf("expected parse error")
	}
}
