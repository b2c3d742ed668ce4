package adapter

import (
	"context"
	"log/slog"

	"polis/internal/bodyaccum"
	"polis/internal/ott"
	"polis/internal/telemetry"
)

// OTTService adapts ott.Rewriter to the Lifecycle interface.
type OTTService struct {
	Rewriter   *ott.Rewriter
	HeadMax    int
	PreviewLen int
	Telemetry  *telemetry.Provider
}

func NewOTTService(rewriter *ott.Rewriter, headMax, previewLen int, tp *telemetry.Provider) *OTTService {
	if tp == nil {
		tp = telemetry.NoopProvider()
	}
	return &OTTService{Rewriter: rewriter, HeadMax: headMax, PreviewLen: previewLen, Telemetry: tp}
}

func (s *OTTService) InitService(ctx context.Context) (int, bool, error) {
	return s.PreviewLen, true, nil // OTT may rewrite the body in place
}

func (s *OTTService) InitRequest(ctx context.Context, host string) *RequestState {
	acc := bodyaccum.New(s.HeadMax, 0) // OTT only ever scans the head
	acc.SetHost(host)
	return &RequestState{Host: host, Acc: acc}
}

func (s *OTTService) Preview(ctx context.Context, rs *RequestState, chunk []byte) {
	rs.Acc.Write(chunk)
}

func (s *OTTService) IO(ctx context.Context, rs *RequestState, chunk []byte) {
	rs.Acc.Write(chunk)
}

func (s *OTTService) EndOfData(ctx context.Context, rs *RequestState) Outcome {
	ctx, span := s.Telemetry.StartDecisionSpan(ctx, "ott", rs.Host)
	res, err := s.Rewriter.Process(ctx, rs.Acc)
	s.Telemetry.EndOTTDecisionSpan(span, res.Rewritten, rs.Acc.Total(), err)

	if err != nil {
		slog.Warn("ott: rewrite aborted, forwarding body unmodified", "error", err)
		return Outcome{}
	}
	return Outcome{Rewritten: res.Rewritten, OTTCode: res.OTTCode}
}

func (s *OTTService) ReleaseRequest(ctx context.Context, rs *RequestState) {}

func (s *OTTService) CloseService(ctx context.Context) error { return nil }
