package domain

import (
	"encoding/base64"
	"encoding/json"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Imagemage ImagemageConfig `json:"imagemage" yaml:"imagemage"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Infra     InfraConfig     `json:"infra" yaml:"infra"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
}

// ImagemageConfig controls how the imagemage executable is located and run,
// and where transient and produced files live.
type ImagemageConfig struct {
	Binary             string `json:"binary" yaml:"binary"`                         // Executable name or path (default "imagemage")
	OutputDir          string `json:"outputDir" yaml:"outputDir"`                   // Used when a call has no output_path
	TempDir            string `json:"tempDir,omitempty" yaml:"tempDir,omitempty"`   // Downloads land here; empty means os.TempDir()
	DownloadTimeoutSec int    `json:"downloadTimeoutSec" yaml:"downloadTimeoutSec"` // Per remote reference
	ProcessTimeoutSec  int    `json:"processTimeoutSec" yaml:"processTimeoutSec"`   // Per imagemage run
	MaxDownloadBytes   int64  `json:"maxDownloadBytes" yaml:"maxDownloadBytes"`
	DefaultModel       string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"` // "pro" | "flash"
	AutoOpen           bool   `json:"autoOpen" yaml:"autoOpen"`

	DownloadRetry RetryConfig `json:"downloadRetry" yaml:"downloadRetry"`
}

// RetryConfig controls re-attempts of remote image downloads that failed for
// transient reasons. Zero backoff fields take the built-in defaults.
type RetryConfig struct {
	MaxRetries       int     `json:"maxRetries" yaml:"maxRetries"` // 0 disables retries (the default)
	InitialBackoffMs int     `json:"initialBackoffMs" yaml:"initialBackoffMs"`
	MaxBackoffMs     int     `json:"maxBackoffMs" yaml:"maxBackoffMs"`
	Multiplier       float64 `json:"multiplier" yaml:"multiplier"`
}

type GatewayConfig struct {
	Port int        `json:"port" yaml:"port"`
	Auth AuthConfig `json:"auth" yaml:"auth"`
}

type AuthConfig struct {
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty"` // When set, gateway requires Authorization: Bearer <authToken>
}

// JournalConfig enables the invocation journal. An empty URL disables it.
type JournalConfig struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"` // "file:path.db" or "libsql://host?authToken=..."
}

type InfraConfig struct {
	LogFormat string `json:"logFormat" yaml:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
}

// =============================================================================
// Content Blocks
// =============================================================================

type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

type ContentBlock interface {
	Type() BlockType
}

type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) Type() BlockType { return BlockText }

type ImageBlock struct {
	Source MediaType `json:"source"`
}

type MediaType struct {
	Type      string `json:"type"`       // e.g., "base64"
	MediaType string `json:"media_type"` // e.g., "image/jpeg"
	Data      string `json:"data"`
}

func (ImageBlock) Type() BlockType { return BlockImage }

// =============================================================================
// Tooling
// =============================================================================

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type ToolResult struct {
	Data        string            `json:"data"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Artifacts   []string          `json:"artifacts,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// Attachment is an inline, displayable image: raw bytes plus MIME type.
// Data is base64-encoded when marshaled to JSON.
type Attachment struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// ImageBlock renders the attachment as a base64 image content block.
func (a Attachment) ImageBlock() ImageBlock {
	return ImageBlock{Source: MediaType{
		Type:      "base64",
		MediaType: a.MIMEType,
		Data:      base64.StdEncoding.EncodeToString(a.Data),
	}}
}

// Blocks returns the result as content blocks: the text first, then one image
// block per attachment.
func (r *ToolResult) Blocks() []ContentBlock {
	if r == nil {
		return nil
	}
	blocks := make([]ContentBlock, 0, 1+len(r.Attachments))
	blocks = append(blocks, TextBlock{Text: r.Data})
	for _, a := range r.Attachments {
		blocks = append(blocks, a.ImageBlock())
	}
	return blocks
}
