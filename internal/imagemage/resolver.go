package imagemage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
)

// Resolver turns image references into local files. Local paths and file://
// URIs are only checked for existence; http(s) URLs go through the Downloader.
type Resolver struct {
	downloader Downloader
}

// NewResolver creates a Resolver that fetches remote references with d.
func NewResolver(d Downloader) *Resolver {
	return &Resolver{downloader: d}
}

// statFunc is used for existence checks; tests may replace it.
var statFunc = os.Stat

// Resolve returns a local path for ref. Downloads are always Owned; local
// paths and file:// URIs are returned unchanged and never owned.
func (r *Resolver) Resolve(ctx context.Context, ref string) (ResolvedImage, error) {
	if strings.TrimSpace(ref) == "" {
		return ResolvedImage{}, &ResolutionError{Kind: InvalidReference, Reference: ref, Err: errors.New("empty reference")}
	}

	scheme, _, hasScheme := strings.Cut(ref, "://")
	if !hasScheme {
		if err := checkLocalFile(ref); err != nil {
			return ResolvedImage{}, err
		}
		return ResolvedImage{Path: ref}, nil
	}

	switch strings.ToLower(scheme) {
	case "file":
		path, err := fileURIPath(ref)
		if err != nil {
			return ResolvedImage{}, &ResolutionError{Kind: InvalidReference, Reference: ref, Err: err}
		}
		if err := checkLocalFile(path); err != nil {
			return ResolvedImage{}, err
		}
		return ResolvedImage{Path: path}, nil
	case "http", "https":
		if r.downloader == nil {
			return ResolvedImage{}, &ResolutionError{Kind: InvalidReference, Reference: ref, Err: errors.New("remote images are not enabled")}
		}
		path, err := r.downloader.Download(ctx, ref)
		if err != nil {
			return ResolvedImage{}, err
		}
		return ResolvedImage{Path: path, Owned: true}, nil
	default:
		return ResolvedImage{}, &ResolutionError{Kind: InvalidReference, Reference: ref, Err: fmt.Errorf("unsupported scheme %q", scheme)}
	}
}

// fileURIPath strips the file:// scheme and an empty or localhost host, then
// percent-decodes the rest. '#' and '?' are part of the file name.
func fileURIPath(ref string) (string, error) {
	rest := ref[len("file://"):]
	host, path := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	if host != "" && !strings.EqualFold(host, "localhost") {
		return "", fmt.Errorf("file URI host %q is not local", host)
	}
	if path == "" {
		return "", errors.New("file URI has no path")
	}
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

// checkLocalFile requires path to exist and not be a directory.
func checkLocalFile(path string) error {
	info, err := statFunc(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ResolutionError{Kind: NotFound, Reference: path, Err: err}
		}
		return &ResolutionError{Kind: InvalidReference, Reference: path, Err: err}
	}
	if info.IsDir() {
		return &ResolutionError{Kind: InvalidReference, Reference: path, Err: errors.New("is a directory")}
	}
	return nil
}
