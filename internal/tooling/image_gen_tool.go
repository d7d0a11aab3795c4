package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"imagetool/internal/domain"
	"imagetool/internal/imagemage"
)

// ImageGenToolName is the function-calling name of the image tool.
const ImageGenToolName = "generate_image"

// ImagePipeline runs one image request end to end. *imagemage.Pipeline
// satisfies it; tests substitute a fake.
type ImagePipeline interface {
	Run(ctx context.Context, req imagemage.InvocationRequest) (*imagemage.InvocationResult, error)
}

// ImageGenInput is the argument object the model sends.
type ImageGenInput struct {
	Prompt           string   `json:"prompt" jsonschema:"minLength=1" jsonschema_description:"Text description of the image to generate, or of the change to make when editing"`
	Operation        string   `json:"operation,omitempty" jsonschema:"enum=generate,enum=edit,default=generate" jsonschema_description:"generate creates a new image; edit modifies the image given in image"`
	Image            string   `json:"image,omitempty" jsonschema_description:"Image to edit: local path, file:// URI or http(s) URL. Required for edit"`
	AdditionalImages []string `json:"additional_images,omitempty" jsonschema_description:"Extra reference images for edit, in the same forms as image"`
	OutputPath       string   `json:"output_path,omitempty" jsonschema_description:"Where to write the result. Defaults to a unique file in the output directory"`
	AspectRatio      string   `json:"aspect_ratio,omitempty" jsonschema:"enum=1:1,enum=2:3,enum=3:2,enum=3:4,enum=4:3,enum=4:5,enum=5:4,enum=9:16,enum=16:9,enum=21:9"`
	Resolution       string   `json:"resolution,omitempty" jsonschema:"enum=1K,enum=2K,enum=4K"`
	Model            string   `json:"model,omitempty" jsonschema:"enum=pro,enum=flash" jsonschema_description:"pro for quality, flash for the cheaper frugal tier"`
	Style            string   `json:"style,omitempty" jsonschema_description:"Style hint for generate. Ignored by edit"`
	AutoOpen         *bool    `json:"auto_open,omitempty" jsonschema_description:"Open the result in the system image viewer"`
}

// Request converts the tool arguments to a pipeline request.
func (in ImageGenInput) Request() imagemage.InvocationRequest {
	return imagemage.InvocationRequest{
		Operation:        imagemage.Operation(in.Operation),
		Prompt:           in.Prompt,
		Image:            in.Image,
		AdditionalImages: in.AdditionalImages,
		OutputPath:       in.OutputPath,
		AspectRatio:      in.AspectRatio,
		Resolution:       in.Resolution,
		Model:            in.Model,
		Style:            in.Style,
		AutoOpen:         in.AutoOpen,
	}
}

// genUnmarshalFunc is the JSON unmarshaler used by Call. Package-level so
// tests can inject a failing unmarshaler.
var genUnmarshalFunc = json.Unmarshal

// ImageGenTool exposes the imagemage pipeline as an LLM tool.
type ImageGenTool struct {
	pipeline ImagePipeline
}

// NewImageGenTool creates the tool around a pipeline.
func NewImageGenTool(pipeline ImagePipeline) *ImageGenTool {
	return &ImageGenTool{pipeline: pipeline}
}

// Name returns the tool name used in function-calling.
func (t *ImageGenTool) Name() string { return ImageGenToolName }

// Description returns a human-readable description for the LLM.
func (t *ImageGenTool) Description() string {
	return "Generates a new image from a text prompt, or edits an existing image (local path or URL) following a prompt. " +
		"Returns the saved file path and the image itself."
}

// Definition returns the JSON Schema for the tool input.
func (t *ImageGenTool) Definition() string {
	return GenerateSchema(ImageGenInput{})
}

// Call validates the JSON arguments against the schema and runs the pipeline.
func (t *ImageGenTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	if err := ValidateAgainstSchema(args, t.Definition()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var input ImageGenInput
	if err := genUnmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("%w: failed to parse input: %w", ErrInvalidInput, err)
	}

	req := input.Request()
	res, err := t.pipeline.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return toolResult(req, res), nil
}

func toolResult(req imagemage.InvocationRequest, res *imagemage.InvocationResult) *domain.ToolResult {
	op := string(req.Operation)
	if op == "" {
		op = string(imagemage.OpGenerate)
	}
	meta := map[string]string{
		"operation":     op,
		"path":          res.Path,
		"mime_type":     res.Attachment.MIMEType,
		"invocation_id": res.InvocationID,
	}
	if res.Width > 0 && res.Height > 0 {
		meta["width"] = strconv.Itoa(res.Width)
		meta["height"] = strconv.Itoa(res.Height)
	}
	return &domain.ToolResult{
		Data:        "Generated image saved to: " + res.Path,
		Metadata:    meta,
		Artifacts:   []string{res.Path},
		Attachments: []domain.Attachment{res.Attachment},
	}
}
