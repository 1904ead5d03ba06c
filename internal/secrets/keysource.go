// internal/secrets/keysource.go
//
// Encryption-key resolution, optionally via Vault.
//
// Context
// -------
// `DB_PASSWORD_ENCRYPTION_KEY` usually holds the hex key directly.  On
// hosts with a Vault agent it may instead hold a KV-v2 reference of the
// form `vault:<mount>/<path>#<key>`, resolved once at boot.  The Vault
// client reads VAULT_ADDR and VAULT_TOKEN from the environment, the same
// contract the rest of our fleet tooling uses.
//
// Notes
// -----
// • ResolveKey never caches; boot-time single shot.
// • Oxford commas, two spaces after periods.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// vaultScheme prefixes a key value that must be fetched from Vault.
const vaultScheme = "vault:"

// ResolveKey turns the configured key setting into a literal hex key.  A
// plain value is returned as-is; a `vault:` reference is fetched from the
// KV-v2 engine.  Empty input stays empty (no key configured).
func ResolveKey(ctx context.Context, setting string) (string, error) {
	setting = strings.TrimSpace(setting)
	if setting == "" || !strings.HasPrefix(setting, vaultScheme) {
		return setting, nil
	}

	ref := strings.TrimPrefix(setting, vaultScheme)
	secretPath, key, ok := strings.Cut(ref, "#")
	if !ok || secretPath == "" || key == "" {
		return "", fmt.Errorf("secrets: malformed vault reference %q (want vault:<path>#<key>)", setting)
	}

	cli, err := newVaultClient()
	if err != nil {
		return "", err
	}

	mount, rel := splitMount(secretPath)
	sec, err := cli.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("secrets: vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("secrets: key %q not found in secret %q", key, secretPath)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("secrets: value at %s#%s is not a string", secretPath, key)
	}
	return sval, nil
}

// NewDecryptorFromSetting resolves the key setting (env or Vault) and
// returns the matching Decryptor.  An empty setting yields Passthrough.
func NewDecryptorFromSetting(ctx context.Context, setting string) (Decryptor, error) {
	key, err := ResolveKey(ctx, setting)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return Passthrough, nil
	}
	return NewDecryptor(key)
}

// newVaultClient builds a Vault API client from the process environment.
func newVaultClient() (*vault.Client, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("secrets: vault env cfg: %w", err)
	}

	cli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: vault api: %w", err)
	}

	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		cli.SetToken(tok)
	}
	if cli.Token() == "" {
		return nil, errors.New("secrets: no vault token available")
	}
	return cli, nil
}

// splitMount separates the KV mount from the secret's relative path.
func splitMount(p string) (mount, rel string) {
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}
