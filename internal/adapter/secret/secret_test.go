package secret

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dex-trade-core/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHexKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestEnvSource_Load(t *testing.T) {
	key, err := NewEnvSource(testHexKey).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, key, 32)

	key2, err := NewEnvSource("0x" + testHexKey).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, key2)
}

func TestEnvSource_InvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"not hex", strings.Repeat("zz", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEnvSource(tt.key).Load(context.Background())
			require.Error(t, err)
			if tt.key != "" {
				assert.NotContains(t, err.Error(), tt.key)
			}
		})
	}
}

func TestFileSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte(testHexKey+"\n"), 0o600))

	key, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.Equal(t, "file", NewFileSource(path).Name())
}

func TestFileSource_Missing(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope")).Load(context.Background())
	assert.Error(t, err)
}

func TestPassphraseSource_Deterministic(t *testing.T) {
	salt := strings.Repeat("ab", 16)
	s1, err := NewPassphraseSource("correct horse battery staple", salt)
	require.NoError(t, err)
	s2, err := NewPassphraseSource("correct horse battery staple", salt)
	require.NoError(t, err)
	s3, err := NewPassphraseSource("wrong horse", salt)
	require.NoError(t, err)

	k1, err := s1.Load(context.Background())
	require.NoError(t, err)
	k2, err := s2.Load(context.Background())
	require.NoError(t, err)
	k3, err := s3.Load(context.Background())
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestPassphraseSource_Invalid(t *testing.T) {
	_, err := NewPassphraseSource("pw", "abcd")
	assert.Error(t, err, "salt too short")

	_, err = NewPassphraseSource("pw", "xyz")
	assert.Error(t, err)

	s, err := NewPassphraseSource("", strings.Repeat("ab", 16))
	require.NoError(t, err)
	_, err = s.Load(context.Background())
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	src, err := FromConfig(config.VaultConfig{Source: "env", MasterKey: testHexKey})
	require.NoError(t, err)
	assert.Equal(t, "env", src.Name())

	src, err = FromConfig(config.VaultConfig{Source: "passphrase", Passphrase: "pw", PassphraseSalt: strings.Repeat("01", 16)})
	require.NoError(t, err)
	assert.Equal(t, "passphrase", src.Name())

	_, err = FromConfig(config.VaultConfig{Source: "kms"})
	assert.Error(t, err)
}

func TestLoadMasterKeys(t *testing.T) {
	retired := strings.Repeat("11", 32)
	cfg := config.VaultConfig{
		KeyVersion:  2,
		RetiredKeys: []config.RetiredKeyConfig{{Version: 1, Key: retired}},
	}

	keys, err := LoadMasterKeys(context.Background(), NewEnvSource(testHexKey), cfg)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 32), keys[1])

	Zero(keys)
	assert.Equal(t, make([]byte, 32), keys[2])
}

func TestLoadMasterKeys_VersionCollision(t *testing.T) {
	cfg := config.VaultConfig{
		KeyVersion:  1,
		RetiredKeys: []config.RetiredKeyConfig{{Version: 1, Key: testHexKey}},
	}
	_, err := LoadMasterKeys(context.Background(), NewEnvSource(testHexKey), cfg)
	assert.Error(t, err)
}
