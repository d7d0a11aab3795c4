package secrets

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PassphraseEnv overrides the machine-id as the key material.
const PassphraseEnv = "IMAGETOOL_SECRETS_PASSPHRASE"

// Hooks for tests.
var (
	keySourceReadFile      = os.ReadFile
	keySourceUserConfigDir = os.UserConfigDir
	keySourceMkdirAll      = os.MkdirAll
)

// DefaultKeySource returns a 32-byte key from IMAGETOOL_SECRETS_PASSPHRASE or,
// on Linux, /etc/machine-id.
func DefaultKeySource() ([]byte, error) {
	if s := os.Getenv(PassphraseEnv); s != "" {
		return deriveKey(s), nil
	}
	const machineIDPath = "/etc/machine-id"
	b, err := keySourceReadFile(machineIDPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: set %s or ensure %s exists: %w", PassphraseEnv, machineIDPath, err)
	}
	id, _, _ := strings.Cut(string(b), "\n")
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("secrets: machine-id is empty")
	}
	return deriveKey(id), nil
}

// DeriveKeyFromPassphrase returns a 32-byte key from a passphrase.
func DeriveKeyFromPassphrase(passphrase string) []byte {
	return deriveKey(passphrase)
}

func deriveKey(input string) []byte {
	const salt = "imagetool-secrets-v1"
	h := sha256.Sum256([]byte(salt + input))
	return h[:]
}

// DefaultPath returns UserConfigDir/imagetool/.secrets, creating the directory.
func DefaultPath() (string, error) {
	base, err := keySourceUserConfigDir()
	if err != nil {
		return "", fmt.Errorf("secrets dir: %w", err)
	}
	dir := filepath.Join(base, "imagetool")
	if err := keySourceMkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("secrets dir mkdir: %w", err)
	}
	return filepath.Join(dir, ".secrets"), nil
}
