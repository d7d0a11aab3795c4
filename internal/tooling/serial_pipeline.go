package tooling

import (
	"context"
	"path/filepath"

	"imagetool/internal/imagemage"
	"imagetool/internal/queue"
)

// SerializedPipeline runs requests that name the same output_path one at a
// time so two concurrent calls never write the same file. Requests without
// an output_path get a fresh unique file and run unqueued.
type SerializedPipeline struct {
	inner ImagePipeline
	lanes *queue.LaneQueue
}

// NewSerializedPipeline wraps inner. A nil lanes gets its own queue.
func NewSerializedPipeline(inner ImagePipeline, lanes *queue.LaneQueue) *SerializedPipeline {
	if lanes == nil {
		lanes = queue.NewLaneQueue()
	}
	return &SerializedPipeline{inner: inner, lanes: lanes}
}

func (s *SerializedPipeline) Run(ctx context.Context, req imagemage.InvocationRequest) (*imagemage.InvocationResult, error) {
	key := outputKey(req.OutputPath)
	if key == "" {
		return s.inner.Run(ctx, req)
	}
	var res *imagemage.InvocationResult
	err := s.lanes.Do(ctx, key, func() error {
		var err error
		res, err = s.inner.Run(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// outputKey normalizes an output path so "./a.png" and "a.png" share a lane.
func outputKey(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

var _ ImagePipeline = (*SerializedPipeline)(nil)
