// Package keystore loads or generates the worker's enclave signing key: a
// 64-byte ed25519 keypair persisted at a fixed protected path. It mirrors
// the trading bot's internal/vault.Client dual-mode shape (Vault-backed
// when enabled, a local sealed file otherwise) and the Rust worker's
// load_enclave_signer, which generates fresh from hardware randomness when
// the file is missing or corrupt.
package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
	vaultapi "github.com/hashicorp/vault/api"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

// Store persists and retrieves the sealed enclave key bytes. FileStore and
// VaultStore are the two implementations; which one is used is a
// configuration choice, not a code-path choice.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Load returns the enclave signer, generating and persisting a fresh
// ed25519 keypair in store if none is present or the stored bytes are
// corrupt.
func Load(store Store) (solana.PrivateKey, error) {
	if raw, err := store.Load(); err == nil && len(raw) == 64 {
		return solana.PrivateKey(raw), nil
	}

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: generating enclave signer: %v", oraclerr.ErrConfig, err)
	}
	if err := store.Save([]byte(key)); err != nil {
		return nil, fmt.Errorf("%w: persisting enclave signer: %v", oraclerr.ErrConfig, err)
	}
	return key, nil
}

// FileStore persists the key to a local file, sealed with
// nacl/secretbox when a non-empty seal key is configured.
type FileStore struct {
	Path    string
	SealKey *[32]byte // nil disables sealing
}

func (f *FileStore) Load() ([]byte, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	if f.SealKey == nil {
		return raw, nil
	}
	return unseal(raw, f.SealKey)
}

func (f *FileStore) Save(data []byte) error {
	out := data
	if f.SealKey != nil {
		sealed, err := seal(data, f.SealKey)
		if err != nil {
			return err
		}
		out = sealed
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, out, 0600)
}

// VaultStore persists the key under a HashiCorp Vault KV v2 path, matching
// the trading bot's internal/vault.Client usage of api.Logical().
type VaultStore struct {
	Client     *vaultapi.Client
	MountPath  string
	SecretPath string
}

func (v *VaultStore) path() string {
	return fmt.Sprintf("%s/data/%s", v.MountPath, v.SecretPath)
}

func (v *VaultStore) Load() ([]byte, error) {
	secret, err := v.Client.Logical().Read(v.path())
	if err != nil {
		return nil, fmt.Errorf("%w: reading enclave signer from vault: %v", oraclerr.ErrNetwork, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, errors.New("keystore: no enclave signer stored in vault")
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, errors.New("keystore: malformed vault secret")
	}
	encoded, ok := data["key"].(string)
	if !ok {
		return nil, errors.New("keystore: vault secret missing key field")
	}
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("keystore: malformed enclave signer in vault: %w", err)
	}
	return []byte(key), nil
}

func (v *VaultStore) Save(data []byte) error {
	key := solana.PrivateKey(data)
	_, err := v.Client.Logical().Write(v.path(), map[string]interface{}{
		"data": map[string]interface{}{"key": key.String()},
	})
	if err != nil {
		return fmt.Errorf("%w: writing enclave signer to vault: %v", oraclerr.ErrNetwork, err)
	}
	return nil
}

func seal(message []byte, key *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("keystore: generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], message, &nonce, key), nil
}

func unseal(sealed []byte, key *[32]byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errors.New("keystore: sealed data too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	out, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return nil, errors.New("keystore: failed to unseal enclave signer")
	}
	return out, nil
}
