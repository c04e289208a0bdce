package cryptox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSealer(t *testing.T, purpose string) *Sealer {
	t.Helper()
	s, err := NewSealer([]byte(strings.Repeat("k", 32)), purpose)
	require.NoError(t, err)
	return s
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	s := testSealer(t, "refresh-token")
	aad := []byte("account-1")

	sealed, err := s.Seal([]byte("rt-secret"), aad)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "rt-secret")

	plain, err := s.Open(sealed, aad)
	require.NoError(t, err)
	require.Equal(t, "rt-secret", string(plain))

	// Nonce is random, so two seals of the same value differ.
	again, err := s.Seal([]byte("rt-secret"), aad)
	require.NoError(t, err)
	require.NotEqual(t, sealed, again)
}

func TestOpenRejects(t *testing.T) {
	t.Parallel()

	s := testSealer(t, "refresh-token")
	sealed, err := s.Seal([]byte("rt-secret"), []byte("account-1"))
	require.NoError(t, err)

	t.Run("wrong aad", func(t *testing.T) {
		_, err := s.Open(sealed, []byte("account-2"))
		require.ErrorIs(t, err, ErrDecryptFailed)
	})

	t.Run("tampered", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[len(bad)-1] ^= 0xff
		_, err := s.Open(bad, []byte("account-1"))
		require.ErrorIs(t, err, ErrDecryptFailed)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := s.Open([]byte("short"), nil)
		require.ErrorIs(t, err, ErrCiphertext)
	})

	t.Run("different purpose", func(t *testing.T) {
		_, err := testSealer(t, "other").Open(sealed, []byte("account-1"))
		require.ErrorIs(t, err, ErrDecryptFailed)
	})
}

func TestNewSealerKeyTooShort(t *testing.T) {
	t.Parallel()

	_, err := NewSealer([]byte("short"), "x")
	require.ErrorIs(t, err, ErrKeyTooShort)
}

func TestLoadMasterKey(t *testing.T) {
	t.Parallel()

	t.Run("ephemeral", func(t *testing.T) {
		key, ephemeral, err := LoadMasterKey("")
		require.NoError(t, err)
		require.True(t, ephemeral)
		require.Len(t, key, MinMasterKeySize)
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("m", 40)+"\n"), 0o600))

		key, ephemeral, err := LoadMasterKey(path)
		require.NoError(t, err)
		require.False(t, ephemeral)
		require.Len(t, key, 40)
	})

	t.Run("file too short", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		require.NoError(t, os.WriteFile(path, []byte("tiny"), 0o600))

		_, _, err := LoadMasterKey(path)
		require.ErrorIs(t, err, ErrKeyTooShort)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := LoadMasterKey(filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
	})
}
