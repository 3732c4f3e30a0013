package cryptox_test

import (
	"testing"

	"github.com/aussiebroadwan/loginkit/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func newSealer(t *testing.T, passphrase string, salt []byte) *cryptox.Sealer {
	t.Helper()

	s, err := cryptox.NewSealer(cryptox.DeriveKey(passphrase, salt))
	require.NoError(t, err)
	return s
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	salt, err := cryptox.NewSalt()
	require.NoError(t, err)
	s := newSealer(t, "com.example.app", salt)

	plaintext := []byte("refresh-token-value")
	a, err := s.Seal(plaintext, []byte("refreshToken"))
	require.NoError(t, err)
	b, err := s.Seal(plaintext, []byte("refreshToken"))
	require.NoError(t, err)
	require.NotEqual(t, a, b, "random nonce per seal")
	require.NotContains(t, string(a), "refresh-token-value")

	opened, err := s.Open(a, []byte("refreshToken"))
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	t.Run("wrong additional data", func(t *testing.T) {
		_, err := s.Open(a, []byte("accessToken"))
		require.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := newSealer(t, "other-service", salt)
		_, err := other.Open(a, []byte("refreshToken"))
		require.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := s.Open(a[:4], nil)
		require.ErrorIs(t, err, cryptox.ErrCiphertextTooShort)
	})
}

func TestDeriveKeyDeterministic(t *testing.T) {
	t.Parallel()

	salt := make([]byte, cryptox.SaltSize)
	require.Equal(t, cryptox.DeriveKey("p", salt), cryptox.DeriveKey("p", salt))
	require.NotEqual(t, cryptox.DeriveKey("p", salt), cryptox.DeriveKey("q", salt))
	require.Len(t, cryptox.DeriveKey("p", salt), 32)
}
