package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&config.LogConfig{Level: "debug", Format: "json"}, &buf)

	l.WithField(FieldMemberID, 42).Info("recorded")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "recorded" {
		t.Errorf("expected message 'recorded', got %v", entry["message"])
	}
	if entry[FieldMemberID] != float64(42) {
		t.Errorf("expected member_id 42, got %v", entry[FieldMemberID])
	}
	if entry["service"] != "face-attendance" {
		t.Errorf("expected service field, got %v", entry["service"])
	}
}

func TestNew_TextFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&config.LogConfig{Level: "warn", Format: "text"}, &buf)

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}

	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn line, got %q", buf.String())
	}
}

func TestNew_InvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&config.LogConfig{Level: "loud"}, &buf)

	l.Debug("hidden")
	l.Info("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("expected debug to be filtered")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected info to be written")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(nil, &buf)

	if FromContext(context.Background()) != Default() {
		t.Error("expected default logger for empty context")
	}

	ctx := ContextWithFields(l.WithContext(context.Background()), Fields{FieldRequestID: "abc"})
	CtxInfo(ctx, "hello %s", "world")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	if entry[FieldRequestID] != "abc" {
		t.Errorf("expected request_id 'abc', got %v", entry[FieldRequestID])
	}
	if entry["message"] != "hello world" {
		t.Errorf("unexpected message %v", entry["message"])
	}
}
