package journal

import (
	"context"
	"log/slog"
	"time"

	"imagetool/internal/imagemage"
)

// Runner is the pipeline surface the Recorder wraps.
type Runner interface {
	Run(ctx context.Context, req imagemage.InvocationRequest) (*imagemage.InvocationResult, error)
}

// Recorder journals every Run of the wrapped pipeline. A journal write
// failure is logged and never changes the invocation's outcome.
type Recorder struct {
	inner  Runner
	store  *Store
	logger *slog.Logger
	now    func() time.Time // injectable for testing
}

// NewRecorder wraps inner. A nil logger uses slog.Default.
func NewRecorder(inner Runner, store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{inner: inner, store: store, logger: logger, now: time.Now}
}

func (r *Recorder) Run(ctx context.Context, req imagemage.InvocationRequest) (*imagemage.InvocationResult, error) {
	if req.InvocationID == "" {
		req.InvocationID = imagemage.NewInvocationID()
	}
	start := r.now()
	res, err := r.inner.Run(ctx, req)

	op := req.Operation
	if op == "" {
		op = imagemage.OpGenerate
	}
	e := Entry{
		InvocationID: req.InvocationID,
		Operation:    string(op),
		Prompt:       req.Prompt,
		OutputPath:   req.OutputPath,
		Status:       StatusOK,
		Duration:     Millis(r.now().Sub(start).Milliseconds()),
		CreatedAt:    start,
	}
	if err != nil {
		e.Status = StatusError
		e.Error = err.Error()
	} else if res != nil {
		if res.InvocationID != "" {
			e.InvocationID = res.InvocationID
		}
		e.OutputPath = res.Path
		e.MIMEType = res.Attachment.MIMEType
		e.Width, e.Height = res.Width, res.Height
	}

	// Record even when ctx is already done.
	if _, jerr := r.store.Record(context.WithoutCancel(ctx), e); jerr != nil {
		r.logger.Warn("journal write failed", "error", jerr, "invocation_id", e.InvocationID)
	}
	return res, err
}

var _ Runner = (*Recorder)(nil)
