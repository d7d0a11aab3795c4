package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"imagetool/internal/db"
	"imagetool/internal/domain"
	"imagetool/internal/imagemage"
	"imagetool/internal/retry"
)

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	yamlMarshal   = yaml.Marshal
	writeFile     = os.WriteFile
)

// DefaultPath is the config file used when neither a flag nor IMAGETOOL_CONFIG names one.
const DefaultPath = "imagetool.json"

// EnvPath names the environment variable that overrides DefaultPath.
const EnvPath = "IMAGETOOL_CONFIG"

// Defaults returns a Config with every field set to its default value.
func Defaults() *domain.Config {
	return &domain.Config{
		Imagemage: domain.ImagemageConfig{
			Binary:             imagemage.DefaultBinary,
			OutputDir:          imagemage.DefaultOutputDir(),
			DownloadTimeoutSec: int(imagemage.DefaultDownloadTimeout.Seconds()),
			ProcessTimeoutSec:  int(imagemage.DefaultProcessTimeout.Seconds()),
			MaxDownloadBytes:   imagemage.DefaultMaxDownloadBytes,
			AutoOpen:           false,
			DownloadRetry:      defaultRetry(),
		},
		Gateway: domain.GatewayConfig{Port: 8080},
		Infra:   domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
	}
}

// defaultRetry leaves download retries off; the backoff values apply once
// maxRetries is raised.
func defaultRetry() domain.RetryConfig {
	r := retry.DefaultConfig()
	return domain.RetryConfig{
		MaxRetries:       0,
		InitialBackoffMs: int(r.InitialBackoff.Milliseconds()),
		MaxBackoffMs:     int(r.MaxBackoff.Milliseconds()),
		Multiplier:       r.Multiplier,
	}
}

// ResolvePath picks the config path: the explicit flag, then IMAGETOOL_CONFIG, then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// WriteDefault writes a default Config to path. The format follows the extension.
func WriteDefault(path string) error {
	data, err := encode(path, Defaults())
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path (JSON, or YAML for .yaml/.yml), fills unset fields with
// defaults, cleans path fields and validates the result.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	var c domain.Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &c)
	} else {
		err = json.Unmarshal(data, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	applyDefaults(&c)
	CleanPaths(&c)
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadOrDefault loads path, falling back to Defaults when the file does not exist.
func LoadOrDefault(path string) (*domain.Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

func applyDefaults(c *domain.Config) {
	d := Defaults()
	im := &c.Imagemage
	if im.Binary == "" {
		im.Binary = d.Imagemage.Binary
	}
	if im.OutputDir == "" {
		im.OutputDir = d.Imagemage.OutputDir
	}
	if im.DownloadTimeoutSec == 0 {
		im.DownloadTimeoutSec = d.Imagemage.DownloadTimeoutSec
	}
	if im.ProcessTimeoutSec == 0 {
		im.ProcessTimeoutSec = d.Imagemage.ProcessTimeoutSec
	}
	if im.MaxDownloadBytes == 0 {
		im.MaxDownloadBytes = d.Imagemage.MaxDownloadBytes
	}
	rc, dr := &im.DownloadRetry, d.Imagemage.DownloadRetry
	if rc.InitialBackoffMs == 0 {
		rc.InitialBackoffMs = dr.InitialBackoffMs
	}
	if rc.MaxBackoffMs == 0 {
		rc.MaxBackoffMs = dr.MaxBackoffMs
	}
	if rc.Multiplier == 0 {
		rc.Multiplier = dr.Multiplier
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = d.Gateway.Port
	}
	if c.Infra.LogFormat == "" {
		c.Infra.LogFormat = d.Infra.LogFormat
	}
	if c.Infra.LogLevel == "" {
		c.Infra.LogLevel = d.Infra.LogLevel
	}
}

// Validate rejects values the pipeline cannot run with.
func Validate(c *domain.Config) error {
	im := c.Imagemage
	switch {
	case im.DownloadTimeoutSec < 0:
		return fmt.Errorf("config: imagemage.downloadTimeoutSec must be positive, got %d", im.DownloadTimeoutSec)
	case im.ProcessTimeoutSec < 0:
		return fmt.Errorf("config: imagemage.processTimeoutSec must be positive, got %d", im.ProcessTimeoutSec)
	case im.MaxDownloadBytes < 0:
		return fmt.Errorf("config: imagemage.maxDownloadBytes must be positive, got %d", im.MaxDownloadBytes)
	case c.Gateway.Port < 0 || c.Gateway.Port > 65535:
		return fmt.Errorf("config: gateway.port out of range: %d", c.Gateway.Port)
	}
	switch strings.ToLower(im.DefaultModel) {
	case "", imagemage.ModelPro, imagemage.ModelFlash, imagemage.ModelFrugal:
	default:
		return fmt.Errorf("config: imagemage.defaultModel must be pro or flash, got %q", im.DefaultModel)
	}
	if err := retry.FromDomain(im.DownloadRetry).Validate(); err != nil {
		return fmt.Errorf("config: imagemage.downloadRetry: %w", err)
	}
	if c.Journal.URL != "" {
		if err := db.ValidateURL(c.Journal.URL); err != nil {
			return fmt.Errorf("config: journal.url: %w", err)
		}
	}
	switch c.Infra.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: infra.logFormat must be text or json, got %q", c.Infra.LogFormat)
	}
	if _, err := ParseLevel(c.Infra.LogLevel); err != nil {
		return err
	}
	return nil
}

// CleanPaths applies filepath.Clean to all path fields in cfg to prevent path traversal.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	if cfg.Imagemage.OutputDir != "" {
		cfg.Imagemage.OutputDir = filepath.Clean(cfg.Imagemage.OutputDir)
	}
	if cfg.Imagemage.TempDir != "" {
		cfg.Imagemage.TempDir = filepath.Clean(cfg.Imagemage.TempDir)
	}
}

// Save writes cfg to path, as YAML for .yaml/.yml and JSON otherwise.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}

func encode(path string, cfg *domain.Config) ([]byte, error) {
	if isYAML(path) {
		return yamlMarshal(cfg)
	}
	return marshalIndent(cfg, "", "  ")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
