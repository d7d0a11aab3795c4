package imagemage

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	ftypes "github.com/h2non/filetype/types"

	"imagetool/internal/domain"
)

// InvocationResult is a successful call's output: the image path plus an
// inline attachment of the same file.
type InvocationResult struct {
	InvocationID string
	Path         string
	Attachment   domain.Attachment
	Width        int
	Height       int
}

// savedToPattern matches imagemage's "✓ Saved to: /path/file.png" line.
var savedToPattern = regexp.MustCompile(`(?i)Saved to: (.+\.(?:png|jpg|jpeg|webp|gif))`)

// extensionMIMETypes is the fallback when content sniffing finds nothing.
var extensionMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// Package-level injectable function vars for tests.
var (
	readFileFunc      = os.ReadFile
	filetypeMatchFunc func([]byte) (ftypes.Type, error) = filetype.Match
)

// BuildResult locates the image imagemage produced and wraps it as a result.
// outputPath is the -o value; when it is a directory or the executable chose
// another name, the "Saved to:" line in stdout is used instead.
func BuildResult(outputPath, stdout string) (*InvocationResult, error) {
	path, ok := locateOutput(outputPath, stdout)
	if !ok {
		return nil, &ProcessError{Kind: MissingOutput, Path: outputPath}
	}
	data, err := readFileFunc(path)
	if err != nil {
		return nil, &ProcessError{Kind: MissingOutput, Path: path, Err: err}
	}
	res := &InvocationResult{
		Path:       path,
		Attachment: domain.Attachment{Data: data, MIMEType: DetectMIMEType(path, data)},
	}
	if img, err := imaging.Decode(bytes.NewReader(data)); err == nil {
		b := img.Bounds()
		res.Width, res.Height = b.Dx(), b.Dy()
	}
	return res, nil
}

func locateOutput(outputPath, stdout string) (string, bool) {
	if outputPath != "" && isRegularFile(outputPath) {
		return outputPath, true
	}
	if m := savedToPattern.FindStringSubmatch(stdout); m != nil {
		p := strings.TrimSpace(m[1])
		if isRegularFile(p) {
			return p, true
		}
	}
	return "", false
}

func isRegularFile(path string) bool {
	info, err := statFunc(path)
	return err == nil && info.Mode().IsRegular()
}

// DetectMIMEType sniffs data's image type, falling back to the file
// extension and finally to image/png.
func DetectMIMEType(path string, data []byte) string {
	head := data
	if len(head) > 261 {
		head = head[:261]
	}
	if kind, err := filetypeMatchFunc(head); err == nil && kind != filetype.Unknown && strings.HasPrefix(kind.MIME.Value, "image/") {
		return kind.MIME.Value
	}
	if m, ok := extensionMIMETypes[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "image/png"
}
