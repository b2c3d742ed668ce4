package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"polis/internal/dlp"
	"polis/internal/hostmatch"
	"polis/internal/patternconfig"
	"polis/internal/seclevel"
)

type fixedLevel seclevel.Level

func (f fixedLevel) MaybePoll(ctx context.Context) seclevel.Level { return seclevel.Level(f) }

func mustPatternStore(t *testing.T) *patternconfig.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns.conf")
	src := "pattern.aws_key = AKIA[0-9A-Z]{16}\naction.aws_key = block\n"
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatalf("writing pattern file: %v", err)
	}
	store, err := patternconfig.Load(path)
	if err != nil {
		t.Fatalf("loading patterns: %v", err)
	}
	return store
}

func TestHTTPServerBlocksOnCredential(t *testing.T) {
	patterns := mustPatternStore(t)
	hosts := hostmatch.NewMatcher(hostmatch.DefaultKnownHosts)
	engine := dlp.New(patterns, hosts, fixedLevel(seclevel.LevelBalanced))
	svc := NewDLPService(engine, 4096, 0, 4096, nil)

	srv, err := NewHTTPServer(context.Background(), svc)
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}

	req := httptest.NewRequest("POST", "/adapt", bytes.NewBufferString("key=AKIA1234567890ABCDEF"))
	req.Header.Set("Host", "api.anthropic.com")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != 403 {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w.Header().Get("X-Polis-Block") != "true" {
		t.Error("expected X-Polis-Block header")
	}
	if w.Header().Get("X-Polis-Reason") != "aws_key" {
		t.Errorf("expected reason aws_key, got %q", w.Header().Get("X-Polis-Reason"))
	}
}

func TestHTTPServerAllowsCleanBody(t *testing.T) {
	patterns := mustPatternStore(t)
	hosts := hostmatch.NewMatcher(hostmatch.DefaultKnownHosts)
	engine := dlp.New(patterns, hosts, fixedLevel(seclevel.LevelBalanced))
	svc := NewDLPService(engine, 4096, 0, 4096, nil)

	srv, err := NewHTTPServer(context.Background(), svc)
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}

	req := httptest.NewRequest("POST", "/adapt", bytes.NewBufferString("hello world"))
	req.Header.Set("Host", "api.anthropic.com")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "hello world" {
		t.Errorf("expected pass-through body, got %q", w.Body.String())
	}
}

func TestStatsEndpointReportsCounts(t *testing.T) {
	patterns := mustPatternStore(t)
	hosts := hostmatch.NewMatcher(hostmatch.DefaultKnownHosts)
	engine := dlp.New(patterns, hosts, fixedLevel(seclevel.LevelBalanced))
	svc := NewDLPService(engine, 4096, 0, 4096, nil)

	srv, err := NewHTTPServer(context.Background(), svc)
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}

	req := httptest.NewRequest("POST", "/adapt", bytes.NewBufferString("hello"))
	req.Header.Set("Host", "api.anthropic.com")
	srv.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest("GET", "/stats", nil))

	var stats Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.RequestsTotal != 1 {
		t.Errorf("expected 1 request counted, got %d", stats.RequestsTotal)
	}
}

func TestHealthzReportsOK(t *testing.T) {
	svc := NewDLPService(dlp.New(mustPatternStore(t), hostmatch.NewMatcher(nil), fixedLevel(seclevel.LevelBalanced)), 4096, 0, 4096, nil)
	srv, err := NewHTTPServer(context.Background(), svc)
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
