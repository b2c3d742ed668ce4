// Package adapter models the glue between the core policy engines and the
// host content-adaptation framework's callback lifecycle (spec §4.8):
// init-service, init-request, preview, io, end-of-data, release-request,
// close-service. The c-icap-style REQMOD framework itself is out of scope;
// only the interface it drives, plus an HTTP-based harness exercising it
// end to end, live here.
package adapter

import (
	"context"
	"net/http"
	"strconv"

	"polis/internal/bodyaccum"
)

// Lifecycle is implemented by each service (DLP, OTT) to receive the
// adaptation framework's callbacks in order. Implementations must not
// retain state across RequestState instances — everything per-request
// lives in the RequestState the framework allocates at init-request.
type Lifecycle interface {
	// InitService runs once at process startup: load config, compile
	// patterns, connect to the state store (non-fatal). Returns the preview
	// size to announce and whether modification support should be
	// advertised.
	InitService(ctx context.Context) (previewBytes int, supportsModification bool, err error)

	// InitRequest allocates per-request state and captures the Host header.
	InitRequest(ctx context.Context, host string) *RequestState

	// Preview appends the preview chunk to the request's accumulator.
	Preview(ctx context.Context, rs *RequestState, chunk []byte)

	// IO appends one body chunk to the request's accumulator.
	IO(ctx context.Context, rs *RequestState, chunk []byte)

	// EndOfData runs the policy decision and returns the outcome. The
	// caller translates Outcome into a block response, a rewritten body
	// forward, or a pass-through.
	EndOfData(ctx context.Context, rs *RequestState) Outcome

	// ReleaseRequest frees per-request buffers.
	ReleaseRequest(ctx context.Context, rs *RequestState)

	// CloseService tears down the state-store connection and frees
	// compiled regex resources.
	CloseService(ctx context.Context) error
}

// RequestState is the per-request state the framework owns exclusively
// from InitRequest through ReleaseRequest. It is never shared across
// request threads.
type RequestState struct {
	Host string
	Acc  *bodyaccum.Accumulator
}

// Outcome describes what EndOfData decided.
type Outcome struct {
	Block     bool
	Reason    string // pattern name, new_domain_prompt, new_domain_blocked
	Rewritten bool
	OTTCode   string
}

// WriteBlockResponse emits the spec §6 block response: 403, diagnostic
// headers, minimal HTML body, explicit Content-Length, Connection: close.
// Credential material never reaches here — reason is always a pattern name
// or one of the two fixed new_domain_* strings, never body content.
func WriteBlockResponse(w http.ResponseWriter, reason string) {
	body := []byte("<html><body><h1>Request Blocked</h1><p>This request was blocked by policy.</p></body></html>")

	h := w.Header()
	h.Set("X-Polis-Block", "true")
	h.Set("X-Polis-Reason", reason)
	h.Set("X-Polis-Pattern", reason)
	h.Set("Content-Type", "text/html")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Connection", "close")
	w.WriteHeader(http.StatusForbidden)
	w.Write(body)
}
