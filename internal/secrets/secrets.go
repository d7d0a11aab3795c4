// Package secrets keeps values such as the gateway bearer token out of the
// plain-text config file by storing them in an AES-GCM encrypted file.
package secrets

import "errors"

// GatewayTokenKey is the secret consulted when gateway.auth.authToken is empty.
const GatewayTokenKey = "gateway-token"

// Store stores and retrieves secrets without writing them to config.
type Store interface {
	// Get returns the secret for key. Returns ErrNotFound if missing.
	Get(key string) (string, error)
	// Set stores the secret for key, overwriting any previous value.
	Set(key, value string) error
	// Delete removes the secret for key. No error if the key did not exist.
	Delete(key string) error
}

// ErrNotFound is returned when a secret is not found.
var ErrNotFound = errors.New("secret not found")
