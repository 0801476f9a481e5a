package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestNew_JSONOutputCarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "docpipe-test"})

	ctx := l.WithContext(context.Background())
	ctx = SetDocumentID(ctx, "doc-1")
	ctx = WithField(ctx, FieldAttemptID, 2)

	CtxInfo(ctx, "status applied: %s", "completed")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}

	if line["message"] != "status applied: completed" {
		t.Errorf("unexpected message %v", line["message"])
	}
	if line["service"] != "docpipe-test" {
		t.Errorf("unexpected service %v", line["service"])
	}
	if line[FieldDocumentID] != "doc-1" {
		t.Errorf("missing document_id, got %v", line[FieldDocumentID])
	}
	if line[FieldAttemptID] != float64(2) {
		t.Errorf("missing attempt_id, got %v", line[FieldAttemptID])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Error("expected timestamp key")
	}
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != GetDefault() {
		t.Error("expected default logger for bare context")
	}
}

func TestEntry_MergesMetricFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "info", Output: &buf})
	ctx := l.WithContext(context.Background())

	With(Fields{FieldCount: 3}).WithDuration(15).WithStatus("ok").Info(ctx, "done")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if line[FieldCount] != float64(3) || line[FieldDurationMs] != float64(15) || line[FieldStatus] != "ok" {
		t.Errorf("metric fields not merged: %v", line)
	}
}

func TestGetRequestID(t *testing.T) {
	ctx := SetRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID = %q, want req-123", got)
	}
	if got := GetDocumentID(ctx); got != "" {
		t.Errorf("GetDocumentID = %q, want empty", got)
	}
}
