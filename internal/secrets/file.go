package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const nonceSizeGCM = 12

// Hooks for tests.
var (
	defaultKeySource           = DefaultKeySource
	fileWriteFile              = os.WriteFile
	fileMarshal                = json.Marshal
	fileRandReader   io.Reader = rand.Reader
)

// errUndecryptable marks a file written under a different key.
var errUndecryptable = errors.New("secrets decrypt failed")

// NewFileStore returns a Store backed by an encrypted file at path, keyed
// from DefaultKeySource.
func NewFileStore(path string) (Store, error) {
	key, err := defaultKeySource()
	if err != nil {
		return nil, err
	}
	return NewFileStoreWithKey(path, key)
}

// NewFileStoreWithKey returns a Store with an explicit 32-byte key.
func NewFileStoreWithKey(path string, key []byte) (Store, error) {
	if len(key) != 32 {
		return nil, errors.New("secrets: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &fileStore{path: path, gcm: gcm}, nil
}

// OpenDefault opens the store at DefaultPath.
func OpenDefault() (Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewFileStore(path)
}

type fileStore struct {
	mu   sync.Mutex
	path string
	gcm  cipher.AEAD
}

func (f *fileStore) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.readMap()
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Set replaces an undecryptable file rather than failing, so a rotated key
// can always store a fresh value.
func (f *fileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.readMap()
	if errors.Is(err, errUndecryptable) {
		m = map[string]string{}
	} else if err != nil {
		return err
	}
	m[key] = value
	return f.writeMap(m)
}

func (f *fileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	m, err := f.readMap()
	if errors.Is(err, errUndecryptable) {
		return f.writeMap(map[string]string{})
	} else if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return f.writeMap(m)
}

// readMap returns an empty map when the file does not exist.
func (f *fileStore) readMap() (map[string]string, error) {
	m := map[string]string{}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets read: %w", err)
	}
	if len(data) < nonceSizeGCM {
		return nil, fmt.Errorf("%w: file truncated", errUndecryptable)
	}
	plain, err := f.gcm.Open(nil, data[:nonceSizeGCM], data[nonceSizeGCM:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUndecryptable, err)
	}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("secrets parse: %w", err)
	}
	return m, nil
}

func (f *fileStore) writeMap(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("secrets mkdir: %w", err)
	}
	plain, err := fileMarshal(m)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(fileRandReader, nonce); err != nil {
		return err
	}
	return fileWriteFile(f.path, f.gcm.Seal(nonce, nonce, plain, nil), 0600)
}
