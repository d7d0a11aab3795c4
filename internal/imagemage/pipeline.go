// Package imagemage resolves image references, runs the imagemage executable
// and turns its output into a path plus an inline attachment. Each Run owns
// the files it downloads and removes them before returning.
package imagemage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// newID generates invocation ids; tests may replace it for stable names.
var newID = uuid.NewString

// NewInvocationID returns a fresh id for InvocationRequest.InvocationID.
func NewInvocationID() string { return newID() }

// mkdirAll prepares the default output directory; tests may replace it.
var mkdirAll = os.MkdirAll

// DefaultOutputDir is where images go when a call names no output path.
func DefaultOutputDir() string {
	return filepath.Join(os.TempDir(), "imagemage")
}

// Pipeline handles one tool call at a time per Run; concurrent Runs share no
// mutable state.
type Pipeline struct {
	resolver     *Resolver
	invoker      *Invoker
	viewer       Viewer
	outputDir    string
	autoOpen     bool
	defaultModel string
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithOutputDir sets the directory for calls without output_path.
func WithOutputDir(dir string) Option {
	return func(p *Pipeline) {
		if dir != "" {
			p.outputDir = dir
		}
	}
}

// WithViewer sets the viewer used when auto-open is on.
func WithViewer(v Viewer) Option {
	return func(p *Pipeline) { p.viewer = v }
}

// WithAutoOpen sets whether results open in the viewer when the call does not say.
func WithAutoOpen(open bool) Option {
	return func(p *Pipeline) { p.autoOpen = open }
}

// WithDefaultModel sets the model tier used when the call names none.
func WithDefaultModel(model string) Option {
	return func(p *Pipeline) { p.defaultModel = model }
}

// NewPipeline wires a resolver and invoker into a pipeline.
func NewPipeline(resolver *Resolver, invoker *Invoker, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:  resolver,
		invoker:   invoker,
		viewer:    SystemViewer{},
		outputDir: DefaultOutputDir(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// Invoker returns the pipeline's invoker.
func (p *Pipeline) Invoker() *Invoker { return p.invoker }

// Run handles one request: resolve images, run imagemage, remove downloads,
// then build the result. Downloads are removed on every path before Run returns.
func (p *Pipeline) Run(ctx context.Context, req InvocationRequest) (*InvocationResult, error) {
	id := req.InvocationID
	if id == "" {
		id = newID()
	}
	log := p.log().With("invocation_id", id)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.defaultModel
	}
	if req.OutputPath == "" {
		if err := mkdirAll(p.outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare output dir %s: %w", p.outputDir, err)
		}
		req.OutputPath = filepath.Join(p.outputDir, fmt.Sprintf("imagemage-%s.png", id))
	}
	log = log.With("operation", req.Operation, "output_path", req.OutputPath)

	outcome, err := p.resolveAndInvoke(ctx, &req, log)
	if err != nil {
		log.Warn("invocation failed", "error", err)
		return nil, err
	}

	res, err := BuildResult(req.OutputPath, outcome.Stdout)
	if err != nil {
		log.Warn("invocation produced no image", "error", err)
		return nil, err
	}
	res.InvocationID = id
	log.Info("image ready", "path", res.Path, "mime_type", res.Attachment.MIMEType, "bytes", len(res.Attachment.Data))

	if p.shouldOpen(req) && p.viewer != nil {
		if err := p.viewer.Open(res.Path); err != nil {
			log.Debug("viewer failed", "error", err)
		}
	}
	return res, nil
}

// resolveAndInvoke owns the temp-file registry: it is torn down when this
// function returns, whichever step failed.
func (p *Pipeline) resolveAndInvoke(ctx context.Context, req *InvocationRequest, log *slog.Logger) (ProcessOutcome, error) {
	temps := NewTempFileRegistry(log)
	defer temps.CleanupAll()

	var images Images
	if req.Operation == OpEdit {
		primary, err := p.resolver.Resolve(ctx, req.Image)
		if err != nil {
			return ProcessOutcome{}, err
		}
		temps.Register(primary)
		images.Primary = primary

		for _, ref := range req.AdditionalImages {
			img, err := p.resolver.Resolve(ctx, ref)
			if err != nil {
				return ProcessOutcome{}, err
			}
			temps.Register(img)
			images.Additional = append(images.Additional, img)
		}
	}
	log.Debug("images resolved", "additional", len(images.Additional), "downloads", temps.Len())

	return p.invoker.Invoke(ctx, req, images)
}

func (p *Pipeline) shouldOpen(req InvocationRequest) bool {
	if req.AutoOpen != nil {
		return *req.AutoOpen
	}
	return p.autoOpen
}
