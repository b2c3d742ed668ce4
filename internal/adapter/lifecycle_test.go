package adapter

import (
	"net/http/httptest"
	"testing"
)

func TestWriteBlockResponseSetsDiagnosticHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	WriteBlockResponse(w, "aws_key")

	if w.Code != 403 {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w.Header().Get("X-Polis-Block") != "true" {
		t.Error("expected X-Polis-Block: true")
	}
	if w.Header().Get("X-Polis-Reason") != "aws_key" {
		t.Errorf("unexpected X-Polis-Reason: %q", w.Header().Get("X-Polis-Reason"))
	}
	if w.Header().Get("X-Polis-Pattern") != "aws_key" {
		t.Errorf("unexpected X-Polis-Pattern: %q", w.Header().Get("X-Polis-Pattern"))
	}
	if w.Header().Get("Connection") != "close" {
		t.Error("expected Connection: close")
	}
	if w.Header().Get("Content-Length") != "" && w.Body.Len() == 0 {
		t.Error("expected non-empty body matching Content-Length")
	}
}
