// Package ott implements the approval-rewrite state machine: scan for
// "/polis-approve req-<hex8>", mint a cryptographically random one-time
// token, store it with a collision-retry NX EX, log an audit event, and
// substitute the token into the body byte-for-byte (spec §4.5).
package ott

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"polis/internal/bodyaccum"
)

const (
	alphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	reqIDLen    = 12 // "req-" + 8 hex chars
	ottCodeLen  = 12 // "ott-" + 8 alnum chars
	blockedKey  = "polis:blocked:"
	ottKeyPref  = "polis:ott:"
	auditSetKey = "polis:log:events"
)

var approveCommand = regexp.MustCompile(`/polis-approve[\s]+(req-[0-9a-f]{8})`)

// Store is the subset of the state-store client the rewriter needs.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
}

// AuditSpooler receives audit records the state store failed to accept, for
// best-effort later redelivery. Optional: a nil Spool means spooling is
// disabled and failures are only logged.
type AuditSpooler interface {
	Enqueue(score float64, payload string) error
}

// Rewriter implements the OTT state machine. It holds no per-request state
// and is safe for concurrent use by many request goroutines — each call
// receives its own Accumulator.
type Rewriter struct {
	store    Store
	spool    AuditSpooler
	timeGate time.Duration
	ottTTL   time.Duration
	now      func() time.Time
}

type Option func(*Rewriter)

// WithSpool attaches a local durable audit spool used when ZADD fails.
func WithSpool(s AuditSpooler) Option {
	return func(r *Rewriter) { r.spool = s }
}

func New(store Store, timeGate, ottTTL time.Duration, opts ...Option) *Rewriter {
	r := &Rewriter{store: store, timeGate: timeGate, ottTTL: ottTTL, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type ottRecord struct {
	OTTCode    string `json:"ott_code"`
	RequestID  string `json:"request_id"`
	ArmedAfter int64  `json:"armed_after"`
	OriginHost string `json:"origin_host"`
}

type auditRecord struct {
	Event      string `json:"event"`
	OTTCode    string `json:"ott_code"`
	RequestID  string `json:"request_id"`
	OriginHost string `json:"origin_host"`
	ArmedAfter int64  `json:"armed_after"`
	Timestamp  int64  `json:"timestamp"`
}

// Result describes the outcome of Process.
type Result struct {
	Rewritten bool
	OTTCode   string
}

// Process runs the end-of-data state machine over acc. acc's Head() is
// mutated in place when a rewrite succeeds — the caller forwards
// acc.Head() unchanged either way. Any non-nil error means the rewrite was
// aborted for a reason worth surfacing to an operator (randomness failure,
// store unavailable after reconnect, internal length-mismatch defect); the
// body is always still safe to forward unmodified in that case.
func (r *Rewriter) Process(ctx context.Context, acc *bodyaccum.Accumulator) (Result, error) {
	if acc.HasOverflowed() {
		return Result{}, nil // size gate: BODY_MAX exceeded, pass-through
	}

	head := acc.Head()
	loc := approveCommand.FindSubmatchIndex(head)
	if loc == nil {
		return Result{}, nil // no approval command present
	}
	reqStart, reqEnd := loc[2], loc[3]
	reqID := head[reqStart:reqEnd]

	if !validRequestID(reqID) {
		slog.Debug("ott: malformed request id, passing through", "value", string(reqID))
		return Result{}, nil
	}

	exists, err := r.store.Exists(ctx, blockedKey+string(reqID))
	if err != nil {
		slog.Warn("ott: state store unavailable for blocked-entry check, failing closed", "error", err)
		return Result{}, nil
	}
	if !exists {
		slog.Debug("ott: no matching blocked entry, passing through", "request_id", string(reqID))
		return Result{}, nil
	}

	host := acc.Host()
	if host == "" {
		slog.Debug("ott: missing Host header, failing closed to pass-through")
		return Result{}, nil
	}

	code, err := r.mintAndStore(ctx, string(reqID), host)
	if err != nil {
		return Result{}, err
	}

	if len(code) != len(reqID) {
		return Result{}, fmt.Errorf("ott: mismatched lengths, code=%d request_id=%d, aborting rewrite", len(code), len(reqID))
	}
	copy(head[reqStart:reqEnd], code)

	return Result{Rewritten: true, OTTCode: code}, nil
}

func (r *Rewriter) mintAndStore(ctx context.Context, requestID, host string) (string, error) {
	const maxAttempts = 2 // spec: "two collisions in a row -> fail closed"
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := generateOTT()
		if err != nil {
			return "", fmt.Errorf("ott: cryptographic randomness unavailable, aborting mint: %w", err)
		}

		armedAfter := r.now().Unix() + int64(r.timeGate/time.Second)
		rec := ottRecord{OTTCode: code, RequestID: requestID, ArmedAfter: armedAfter, OriginHost: host}
		payload, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("ott: marshaling record: %w", err)
		}

		ok, err := r.store.SetNX(ctx, ottKeyPref+code, string(payload), r.ottTTL)
		if err != nil {
			return "", fmt.Errorf("ott: state store unavailable during mint: %w", err)
		}
		if ok {
			r.audit(ctx, code, requestID, host, armedAfter)
			return code, nil
		}
		slog.Debug("ott: mint collision, retrying", "attempt", attempt+1, "request_id", requestID)
	}
	return "", fmt.Errorf("ott: two consecutive mint collisions, failing closed")
}

func (r *Rewriter) audit(ctx context.Context, code, requestID, host string, armedAfter int64) {
	rec := auditRecord{
		Event:      "ott_mint",
		OTTCode:    code,
		RequestID:  requestID,
		OriginHost: host,
		ArmedAfter: armedAfter,
		Timestamp:  r.now().Unix(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("ott: failed to marshal audit record", "error", err)
		return
	}
	if err := r.store.ZAdd(ctx, auditSetKey, float64(rec.Timestamp), string(payload)); err != nil {
		slog.Warn("ott: audit event delivery failed, spooling for retry", "error", err)
		if r.spool != nil {
			if spoolErr := r.spool.Enqueue(float64(rec.Timestamp), string(payload)); spoolErr != nil {
				slog.Error("ott: audit spool write failed, event lost", "error", spoolErr)
			}
		}
	}
}

func validRequestID(b []byte) bool {
	if len(b) != reqIDLen || string(b[:4]) != "req-" {
		return false
	}
	for _, c := range b[4:] {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// generateOTT mints "ott-" + 8 characters from a 62-character alphanumeric
// alphabet using crypto/rand exclusively. Short reads or an unavailable
// source abort the mint — there is no PRNG fallback.
func generateOTT() (string, error) {
	raw := make([]byte, ottCodeLen-4)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	out := make([]byte, len(raw)+4)
	copy(out, "ott-")
	for i, b := range raw {
		out[4+i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
