package cli

import (
	"errors"
	"fmt"
	"io"

	"imagetool/internal/domain"
	"imagetool/internal/secrets"
)

// SecretOptions holds options for the secret command.
type SecretOptions struct {
	Action string // "set", "get" or "delete"
	Key    string
	Value  string // for set
}

// RunSecret runs the secret subcommand against the encrypted secrets file.
// Returns exit code (0 for success, 1 for error).
func RunSecret(opts SecretOptions, stdout, stderr io.Writer) int {
	if opts.Key == "" {
		fmt.Fprintln(stderr, "Error: secret key is required")
		return 1
	}
	store, err := openSecretStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch opts.Action {
	case "set":
		if opts.Value == "" {
			fmt.Fprintln(stderr, "Error: secret value must not be empty")
			return 1
		}
		if err := store.Set(opts.Key, opts.Value); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "stored %s\n", opts.Key)
	case "get":
		v, err := store.Get(opts.Key)
		if errors.Is(err, secrets.ErrNotFound) {
			fmt.Fprintf(stderr, "Error: no secret named %q\n", opts.Key)
			return 1
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, v)
	case "delete":
		if err := store.Delete(opts.Key); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "deleted %s\n", opts.Key)
	default:
		fmt.Fprintf(stderr, "Error: unknown action %q (use set, get or delete)\n", opts.Action)
		return 1
	}
	return 0
}

// ResolveGatewayToken fills gateway.auth.authToken from the secrets file
// when the config leaves it empty. It reports where the token came from:
// "config", "secrets" or "" when auth stays disabled.
func ResolveGatewayToken(cfg *domain.Config) (string, error) {
	if cfg.Gateway.Auth.AuthToken != "" {
		return "config", nil
	}
	store, err := openSecretStore()
	if err != nil {
		return "", err
	}
	tok, err := store.Get(secrets.GatewayTokenKey)
	if errors.Is(err, secrets.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	cfg.Gateway.Auth.AuthToken = tok
	return "secrets", nil
}
