package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"imagetool/internal/config"
	"imagetool/internal/imagemage"
	"imagetool/internal/secrets"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	ConfigPath string
	Fix        bool // write a default config and create missing directories
}

// CheckResult is one line of the health report.
type CheckResult struct {
	Name    string
	Status  string // "pass", "warn", "fail"
	Message string
}

// RunCheck verifies that a tool call could succeed on this machine: the
// config loads, imagemage is on PATH and the output and temp directories are
// writable. Returns 0 when nothing failed.
func RunCheck(opts CheckOptions, stdout, stderr io.Writer) int {
	var results []CheckResult
	add := func(name, status, format string, args ...any) {
		results = append(results, CheckResult{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
	}

	cfg, err := configLoad(opts.ConfigPath)
	switch {
	case err == nil:
		add("Config", "pass", "Loaded %s.", opts.ConfigPath)
	case errors.Is(err, os.ErrNotExist) && opts.Fix:
		if werr := configWriteDefault(opts.ConfigPath); werr != nil {
			fmt.Fprintf(stderr, "  failed to write default config: %v\n", werr)
			return 1
		}
		add("Config", "pass", "Wrote default config to %s.", opts.ConfigPath)
		if cfg, err = configLoad(opts.ConfigPath); err != nil {
			add("Config", "fail", "%v", err)
		}
	case errors.Is(err, os.ErrNotExist):
		add("Config", "warn", "No config at %s; using defaults. Run with --fix to create one.", opts.ConfigPath)
		cfg = config.Defaults()
	default:
		add("Config", "fail", "%v", err)
	}

	if cfg != nil {
		results = append(results, checkBinary(cfg.Imagemage.Binary))
		results = append(results, checkWritableDir("imagemage.outputDir", cfg.Imagemage.OutputDir, opts.Fix))
		tempDir := cfg.Imagemage.TempDir
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		results = append(results, checkWritableDir("imagemage.tempDir", tempDir, opts.Fix))

		source, err := ResolveGatewayToken(cfg)
		switch {
		case err != nil:
			add("Gateway", "warn", "port=%d secrets file unreadable: %v", cfg.Gateway.Port, err)
		case source == "":
			add("Gateway", "warn", "port=%d without auth. Run 'imagetool secret set %s TOKEN' before exposing imagetool serve.", cfg.Gateway.Port, secrets.GatewayTokenKey)
		default:
			add("Gateway", "pass", "port=%d bearer auth enabled (token from %s).", cfg.Gateway.Port, source)
		}
	}

	failed := 0
	for _, r := range results {
		fmt.Fprintf(stdout, "  [%s] %-6s %s\n", r.Name, r.Status, r.Message)
		if r.Status == "fail" {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(stdout, "  Check found %d problem(s).\n", failed)
		return 1
	}
	fmt.Fprintln(stdout, "  Check complete.")
	return 0
}

func checkBinary(binary string) CheckResult {
	path, err := lookPath(binary)
	if err != nil {
		return CheckResult{Name: "Binary", Status: "fail", Message: fmt.Sprintf("%s not found in PATH; %s", binary, imagemage.InstallHint)}
	}
	return CheckResult{Name: "Binary", Status: "pass", Message: fmt.Sprintf("%s -> %s", binary, path)}
}

// checkWritableDir creates dir when fix is set, then proves it is writable
// by creating and removing a probe file.
func checkWritableDir(label, dir string, fix bool) CheckResult {
	res := CheckResult{Name: "Paths"}
	abs, err := filepath.Abs(dir)
	if err != nil {
		res.Status, res.Message = "fail", fmt.Sprintf("%s: %v", label, err)
		return res
	}
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err) && fix:
		if err := osMkdirAll(abs, 0o755); err != nil {
			res.Status, res.Message = "fail", fmt.Sprintf("%s %q: mkdir failed: %v", label, abs, err)
			return res
		}
	case os.IsNotExist(err):
		res.Status, res.Message = "warn", fmt.Sprintf("%s %q does not exist yet; it is created on first use.", label, abs)
		return res
	case err != nil:
		res.Status, res.Message = "fail", fmt.Sprintf("%s %q: %v", label, abs, err)
		return res
	case !info.IsDir():
		res.Status, res.Message = "fail", fmt.Sprintf("%s %q: not a directory", label, abs)
		return res
	}

	f, err := osCreateTemp(abs, ".imagetool-check-*")
	if err != nil {
		res.Status, res.Message = "fail", fmt.Sprintf("%s %q: not writable: %v", label, abs, err)
		return res
	}
	f.Close()
	os.Remove(f.Name())
	res.Status, res.Message = "pass", fmt.Sprintf("%s %s ok.", label, abs)
	return res
}
