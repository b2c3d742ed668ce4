package adapter

import (
	"context"

	"polis/internal/bodyaccum"
	"polis/internal/dlp"
	"polis/internal/telemetry"
)

// DLPService adapts dlp.Engine to the Lifecycle interface.
type DLPService struct {
	Engine     *dlp.Engine
	HeadMax    int
	TailMax    int
	PreviewLen int
	Telemetry  *telemetry.Provider
}

func NewDLPService(engine *dlp.Engine, headMax, tailMax, previewLen int, tp *telemetry.Provider) *DLPService {
	if tp == nil {
		tp = telemetry.NoopProvider()
	}
	return &DLPService{Engine: engine, HeadMax: headMax, TailMax: tailMax, PreviewLen: previewLen, Telemetry: tp}
}

func (s *DLPService) InitService(ctx context.Context) (int, bool, error) {
	return s.PreviewLen, false, nil // DLP never modifies the body
}

func (s *DLPService) InitRequest(ctx context.Context, host string) *RequestState {
	acc := bodyaccum.New(s.HeadMax, s.TailMax)
	acc.SetHost(host)
	return &RequestState{Host: host, Acc: acc}
}

func (s *DLPService) Preview(ctx context.Context, rs *RequestState, chunk []byte) {
	rs.Acc.Write(chunk)
}

func (s *DLPService) IO(ctx context.Context, rs *RequestState, chunk []byte) {
	rs.Acc.Write(chunk)
}

func (s *DLPService) EndOfData(ctx context.Context, rs *RequestState) Outcome {
	ctx, span := s.Telemetry.StartDecisionSpan(ctx, "dlp", rs.Host)
	verdict := s.Engine.Evaluate(ctx, rs.Acc)
	s.Telemetry.EndDLPDecisionSpan(span, verdict.Allow, verdict.Reason, rs.Acc.Total())

	if verdict.Allow {
		return Outcome{}
	}
	return Outcome{Block: true, Reason: verdict.Reason}
}

func (s *DLPService) ReleaseRequest(ctx context.Context, rs *RequestState) {}

func (s *DLPService) CloseService(ctx context.Context) error { return nil }
