package secret

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"dex-trade-core/config"
	"dex-trade-core/internal/core/ports"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for passphrase-derived master keys.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64MB
	argon2Threads = 4
	argon2KeyLen  = 32
	minSaltLen    = 16
)

// EnvSource reads a hex master key supplied through configuration (DTC_VAULT_MASTER_KEY).
type EnvSource struct {
	hexKey string
}

func NewEnvSource(hexKey string) *EnvSource {
	return &EnvSource{hexKey: hexKey}
}

func (s *EnvSource) Name() string { return "env" }

func (s *EnvSource) Load(_ context.Context) ([]byte, error) {
	return DecodeHexKey(s.hexKey)
}

// FileSource reads a hex master key from a file, e.g. a mounted secret.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Load(_ context.Context) ([]byte, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading master key file: %w", err)
	}
	defer zero(raw)
	return DecodeHexKey(string(bytes.TrimSpace(raw)))
}

// PassphraseSource stretches an operator passphrase into a master key with Argon2id.
type PassphraseSource struct {
	passphrase string
	salt       []byte
}

// NewPassphraseSource expects saltHex to hold at least 16 bytes.
func NewPassphraseSource(passphrase, saltHex string) (*PassphraseSource, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("decoding passphrase salt: %w", err)
	}
	if len(salt) < minSaltLen {
		return nil, fmt.Errorf("passphrase salt must be at least %d bytes, got %d", minSaltLen, len(salt))
	}
	return &PassphraseSource{passphrase: passphrase, salt: salt}, nil
}

func (s *PassphraseSource) Name() string { return "passphrase" }

func (s *PassphraseSource) Load(_ context.Context) ([]byte, error) {
	if s.passphrase == "" {
		return nil, fmt.Errorf("passphrase is empty")
	}
	pw := []byte(s.passphrase)
	defer zero(pw)
	return argon2.IDKey(pw, s.salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen), nil
}

// FromConfig picks the secret source named by cfg.Source.
func FromConfig(cfg config.VaultConfig) (ports.SecretSource, error) {
	switch cfg.Source {
	case "env":
		return NewEnvSource(cfg.MasterKey), nil
	case "file":
		return NewFileSource(cfg.MasterKeyFile), nil
	case "passphrase":
		return NewPassphraseSource(cfg.Passphrase, cfg.PassphraseSalt)
	default:
		return nil, fmt.Errorf("unknown vault source %q", cfg.Source)
	}
}

// LoadMasterKeys loads the current master key from src and decodes every
// retired key, returning them indexed by version.
func LoadMasterKeys(ctx context.Context, src ports.SecretSource, cfg config.VaultConfig) (map[int][]byte, error) {
	current, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading master key from %s source: %w", src.Name(), err)
	}
	keys := map[int][]byte{cfg.KeyVersion: current}
	for _, rk := range cfg.RetiredKeys {
		if rk.Version == cfg.KeyVersion {
			Zero(keys)
			return nil, fmt.Errorf("retired key version %d collides with the current version", rk.Version)
		}
		k, err := DecodeHexKey(rk.Key)
		if err != nil {
			Zero(keys)
			return nil, fmt.Errorf("retired key version %d: %w", rk.Version, err)
		}
		keys[rk.Version] = k
	}
	return keys, nil
}

// DecodeHexKey decodes a 64-character hex key. The error never echoes the input.
func DecodeHexKey(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != argon2KeyLen*2 {
		return nil, fmt.Errorf("master key must be %d hex characters, got %d", argon2KeyLen*2, len(s))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex")
	}
	return key, nil
}

// Zero wipes every key in the map.
func Zero(keys map[int][]byte) {
	for _, k := range keys {
		zero(k)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
