package imagemage

import (
	"fmt"
	"strings"
)

// Operation selects the imagemage sub-command.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpEdit     Operation = "edit"
)

// Model tiers accepted by the tool. Only the frugal tier changes the flags.
const (
	ModelPro    = "pro"
	ModelFlash  = "flash"
	ModelFrugal = "frugal"
)

// InvocationRequest carries one tool call's parameters. Image and
// AdditionalImages are only valid for edit; Style is ignored for edit.
type InvocationRequest struct {
	Operation        Operation
	Prompt           string
	Image            string
	AdditionalImages []string
	OutputPath       string
	AspectRatio      string
	Resolution       string
	Model            string
	Style            string
	AutoOpen         *bool

	// InvocationID tags logs and results; empty means Run assigns one.
	InvocationID string
}

// Frugal reports whether the request selects the cheaper flash tier.
func (r *InvocationRequest) Frugal() bool {
	m := strings.ToLower(strings.TrimSpace(r.Model))
	return m == ModelFlash || m == ModelFrugal
}

// Validate normalizes the operation and checks the parameters against it.
func (r *InvocationRequest) Validate() error {
	if r.Operation == "" {
		r.Operation = OpGenerate
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	switch r.Operation {
	case OpGenerate:
		if r.Image != "" {
			return fmt.Errorf("%w: image is only accepted by edit", ErrInvalidRequest)
		}
		if len(r.AdditionalImages) > 0 {
			return fmt.Errorf("%w: additional_images are only accepted by edit", ErrInvalidRequest)
		}
	case OpEdit:
		if strings.TrimSpace(r.Image) == "" {
			return fmt.Errorf("%w: edit requires an image", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, r.Operation)
	}
	return nil
}

// ResolvedImage is a local file ready for imagemage. When Owned is true the
// file is a download that the invocation's TempFileRegistry must delete.
type ResolvedImage struct {
	Path  string
	Owned bool
}

// Images holds the resolved inputs of an edit: the primary image and the
// additional images in caller order.
type Images struct {
	Primary    ResolvedImage
	Additional []ResolvedImage
}
