// HTTP-based test harness standing in for the c-icap REQMOD host: it drives
// a Lifecycle through its callbacks over one synchronous HTTP request and
// exposes the diagnostics surface (/healthz, /stats) grounded on the
// teacher's control-API mux idiom (internal/control/api.go).
package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

const defaultChunkSize = 8192

// Stats is a point-in-time snapshot of request counters, served at /stats.
type Stats struct {
	RequestsTotal   int64  `json:"requests_total"`
	BlockedTotal    int64  `json:"blocked_total"`
	RewrittenTotal  int64  `json:"rewritten_total"`
	BytesObserved   int64  `json:"bytes_observed"`
	BytesObservedHR string `json:"bytes_observed_human"`
}

// HTTPServer exposes one Lifecycle over HTTP: POST /adapt carries the
// request body through Preview/IO/EndOfData and responds with either a
// block response or the (possibly rewritten) body forwarded as-is.
type HTTPServer struct {
	lifecycle    Lifecycle
	previewBytes int
	mux          *http.ServeMux

	requestsTotal  atomic.Int64
	blockedTotal   atomic.Int64
	rewrittenTotal atomic.Int64
	bytesObserved  atomic.Int64
}

// NewHTTPServer runs InitService once and wires up the diagnostics mux.
func NewHTTPServer(ctx context.Context, lc Lifecycle) (*HTTPServer, error) {
	previewBytes, _, err := lc.InitService(ctx)
	if err != nil {
		return nil, err
	}
	if previewBytes <= 0 {
		previewBytes = defaultChunkSize
	}

	s := &HTTPServer{lifecycle: lc, previewBytes: previewBytes, mux: http.NewServeMux()}
	s.mux.HandleFunc("/adapt", s.handleAdapt)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/stats", s.handleStats)
	return s, nil
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *HTTPServer) handleAdapt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.NewString()
	ctx := r.Context()
	s.requestsTotal.Inc()

	host := r.Header.Get("Host")
	if host == "" {
		host = r.Host
	}

	rs := s.lifecycle.InitRequest(ctx, host)
	defer s.lifecycle.ReleaseRequest(ctx, rs)

	br := bufio.NewReaderSize(r.Body, s.previewBytes)
	preview := make([]byte, s.previewBytes)
	n, err := io.ReadFull(br, preview)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		http.Error(w, "reading preview", http.StatusBadGateway)
		return
	}
	s.lifecycle.Preview(ctx, rs, preview[:n])
	s.bytesObserved.Add(int64(n))

	buf := make([]byte, defaultChunkSize)
	for {
		chunkN, readErr := br.Read(buf)
		if chunkN > 0 {
			s.lifecycle.IO(ctx, rs, buf[:chunkN])
			s.bytesObserved.Add(int64(chunkN))
		}
		if readErr != nil {
			break
		}
	}

	outcome := s.lifecycle.EndOfData(ctx, rs)

	if outcome.Block {
		s.blockedTotal.Inc()
		slog.Info("adapter: request blocked", "request_id", requestID, "reason", outcome.Reason)
		WriteBlockResponse(w, outcome.Reason)
		return
	}
	if outcome.Rewritten {
		s.rewrittenTotal.Inc()
		slog.Info("adapter: request rewritten", "request_id", requestID, "ott_code", outcome.OTTCode)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if rs.Acc != nil {
		w.Write(rs.Acc.Head())
		if rs.Acc.HasOverflowed() {
			w.Write(rs.Acc.Tail())
		}
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	bytes := s.bytesObserved.Load()
	writeJSON(w, http.StatusOK, Stats{
		RequestsTotal:   s.requestsTotal.Load(),
		BlockedTotal:    s.blockedTotal.Load(),
		RewrittenTotal:  s.rewrittenTotal.Load(),
		BytesObserved:   bytes,
		BytesObservedHR: humanize.Bytes(uint64(bytes)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("adapter: encoding JSON response failed", "error", err)
	}
}
