// Package retry re-attempts image downloads that failed for transient reasons.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"imagetool/internal/domain"
	"imagetool/internal/imagemage"
)

// =============================================================================
// Config
// =============================================================================

// Config controls retry behaviour for remote image downloads.
type Config struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Delay before first retry
	MaxBackoff     time.Duration // Upper bound on backoff duration
	Multiplier     float64       // Backoff multiplier (e.g. 2.0 for exponential)
}

// DefaultConfig returns the retry policy used when downloads opt in to retries.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// FromDomain converts the config file section (milliseconds) to a Config.
func FromDomain(c domain.RetryConfig) Config {
	return Config{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: time.Duration(c.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMs) * time.Millisecond,
		Multiplier:     c.Multiplier,
	}
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if c.MaxRetries == 0 {
		return nil
	}
	if c.InitialBackoff <= 0 {
		return errors.New("retry: InitialBackoff must be > 0")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("retry: MaxBackoff must be > 0")
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// =============================================================================
// Error Classification
// =============================================================================

// IsRetryable reports whether a download failure may succeed on another
// attempt: network failures and 429/5xx responses. Timeouts are not retried
// because each attempt already spent its full time budget. Context errors
// are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var de *imagemage.DownloadError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Kind {
	case imagemage.Network:
		return true
	case imagemage.HTTPStatus:
		return de.StatusCode == http.StatusTooManyRequests || de.StatusCode >= 500
	}
	return false
}

// =============================================================================
// Downloader (Decorator)
// =============================================================================

// Downloader wraps an imagemage.Downloader with retry-on-transient-error logic.
type Downloader struct {
	inner     imagemage.Downloader
	config    Config
	logger    *slog.Logger
	sleepFunc func(ctx context.Context, d time.Duration) error // injectable for testing
}

// NewDownloader returns a decorator that retries Download on transient errors.
// inner must not be nil.
func NewDownloader(inner imagemage.Downloader, cfg Config, logger *slog.Logger) *Downloader {
	if inner == nil {
		panic("retry: inner downloader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{inner: inner, config: cfg, logger: logger, sleepFunc: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Download calls the inner downloader and retries transient failures with
// exponential backoff. Returns the first success, or the last error wrapped
// once retries are exhausted.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	var lastErr error
	backoff := d.config.InitialBackoff
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		path, err := d.inner.Download(ctx, url)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return "", err
		}
		if attempt == d.config.MaxRetries {
			break
		}

		d.logger.Debug("download failed, retrying", "url", url, "attempt", attempt+1, "backoff", backoff, "error", err)
		if serr := d.sleepFunc(ctx, backoff); serr != nil {
			return "", lastErr
		}

		next := time.Duration(float64(backoff) * d.config.Multiplier)
		if next > d.config.MaxBackoff {
			next = d.config.MaxBackoff
		}
		backoff = next
	}
	if d.config.MaxRetries == 0 {
		return "", lastErr
	}
	return "", fmt.Errorf("retries exhausted after %d attempts: %w", d.config.MaxRetries+1, lastErr)
}

// Compile-time check that Downloader implements imagemage.Downloader.
var _ imagemage.Downloader = (*Downloader)(nil)
