package secrets

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, passphrase string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets")
	s, err := NewFileStoreWithKey(path, DeriveKeyFromPassphrase(passphrase))
	if err != nil {
		t.Fatalf("NewFileStoreWithKey: %v", err)
	}
	return s, path
}

// =============================================================================
// Get / Set / Delete
// =============================================================================

func TestFileStore_SetThenGet_ShouldReturnStoredValue(t *testing.T) {
	s, _ := newTestStore(t, "pass")
	if err := s.Set(GatewayTokenKey, "tok-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(GatewayTokenKey)
	if err != nil || got != "tok-123" {
		t.Errorf("Get: want tok-123, got %q (%v)", got, err)
	}
}

func TestFileStore_Get_WhenFileMissing_ShouldReturnErrNotFound(t *testing.T) {
	s, _ := newTestStore(t, "pass")
	if _, err := s.Get("anything"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestFileStore_Set_ShouldKeepOtherKeys(t *testing.T) {
	s, _ := newTestStore(t, "pass")
	_ = s.Set("a", "1")
	_ = s.Set("b", "2")
	_ = s.Set("a", "3")
	if got, _ := s.Get("a"); got != "3" {
		t.Errorf("a: want overwrite to 3, got %q", got)
	}
	if got, _ := s.Get("b"); got != "2" {
		t.Errorf("b: want 2, got %q", got)
	}
}

func TestFileStore_AfterSet_FileShouldNotContainPlainText(t *testing.T) {
	s, path := newTestStore(t, "pass")
	if err := s.Set(GatewayTokenKey, "very-secret-token"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("very-secret-token")) {
		t.Error("secrets file must not contain the value in plain text")
	}
	if info, _ := os.Stat(path); info.Mode().Perm() != 0600 {
		t.Errorf("want mode 0600, got %v", info.Mode().Perm())
	}
}

func TestFileStore_Delete_ShouldRemoveOnlyThatKey(t *testing.T) {
	s, _ := newTestStore(t, "pass")
	_ = s.Set("a", "1")
	_ = s.Set("b", "2")
	if err := s.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("a should be gone, got %v", err)
	}
	if got, _ := s.Get("b"); got != "2" {
		t.Errorf("b should survive, got %q", got)
	}
}

func TestFileStore_Delete_WhenFileMissing_ShouldSucceed(t *testing.T) {
	s, path := newTestStore(t, "pass")
	if err := s.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Delete on a missing file must not create one")
	}
}

// =============================================================================
// Key mismatch and corruption
// =============================================================================

func TestFileStore_Get_WhenWrittenWithOtherKey_ShouldFailDecrypt(t *testing.T) {
	s1, path := newTestStore(t, "one")
	_ = s1.Set("a", "1")
	s2, _ := NewFileStoreWithKey(path, DeriveKeyFromPassphrase("two"))
	_, err := s2.Get("a")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("want decrypt error, got %v", err)
	}
}

func TestFileStore_Set_WhenWrittenWithOtherKey_ShouldReplaceFile(t *testing.T) {
	s1, path := newTestStore(t, "one")
	_ = s1.Set("a", "1")
	s2, _ := NewFileStoreWithKey(path, DeriveKeyFromPassphrase("two"))
	if err := s2.Set("b", "2"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s2.Get("b"); got != "2" {
		t.Errorf("want 2, got %q", got)
	}
	if _, err := s2.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old entries are unreadable and must be dropped, got %v", err)
	}
}

func TestFileStore_Get_WhenFileTruncated_ShouldReturnError(t *testing.T) {
	s, path := newTestStore(t, "pass")
	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("a"); err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Errorf("want truncated error, got %v", err)
	}
}

func TestNewFileStoreWithKey_WhenKeyWrongLength_ShouldError(t *testing.T) {
	if _, err := NewFileStoreWithKey("x", []byte("short")); err == nil {
		t.Error("expected error for key length != 32")
	}
}

// =============================================================================
// Write failures
// =============================================================================

func TestFileStore_Set_WhenWriteFails_ShouldReturnError(t *testing.T) {
	s, _ := newTestStore(t, "pass")
	orig := fileWriteFile
	fileWriteFile = func(string, []byte, os.FileMode) error { return errors.New("disk full") }
	defer func() { fileWriteFile = orig }()
	if err := s.Set("a", "1"); err == nil {
		t.Error("expected write error")
	}
}

func TestFileStore_Set_WhenRandFails_ShouldReturnError(t *testing.T) {
	s, _ := newTestStore(t, "pass")
	orig := fileRandReader
	fileRandReader = io.LimitReader(bytes.NewReader(nil), 0)
	defer func() { fileRandReader = orig }()
	if err := s.Set("a", "1"); err == nil {
		t.Error("expected nonce error")
	}
}

func TestFileStore_Set_WhenMarshalFails_ShouldReturnError(t *testing.T) {
	s, _ := newTestStore(t, "pass")
	orig := fileMarshal
	fileMarshal = func(any) ([]byte, error) { return nil, errors.New("boom") }
	defer func() { fileMarshal = orig }()
	if err := s.Set("a", "1"); err == nil {
		t.Error("expected marshal error")
	}
}

func TestNewFileStore_WhenKeySourceFails_ShouldReturnError(t *testing.T) {
	orig := defaultKeySource
	defaultKeySource = func() ([]byte, error) { return nil, errors.New("no key") }
	defer func() { defaultKeySource = orig }()
	if _, err := NewFileStore(filepath.Join(t.TempDir(), ".secrets")); err == nil {
		t.Error("expected key source error")
	}
}
