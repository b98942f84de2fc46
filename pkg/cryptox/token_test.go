package cryptox_test

import (
	"testing"

	"github.com/quollsec/strongbox/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	tok, err := cryptox.GenerateToken(cryptox.TokenSize128)
	require.NoError(t, err)
	require.Len(t, tok, 22) // 16 bytes -> 22 base64url chars

	tok2, err := cryptox.GenerateToken(cryptox.TokenSize128)
	require.NoError(t, err)
	require.NotEqual(t, tok, tok2)

	_, err = cryptox.GenerateToken(0)
	require.Error(t, err)
	_, err = cryptox.GenerateToken(-1)
	require.Error(t, err)
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	fp := cryptox.FingerprintToken("123456")
	require.Len(t, fp, 43)
	require.Equal(t, fp, cryptox.FingerprintToken("123456"))
	require.NotEqual(t, fp, cryptox.FingerprintToken("654321"))
}
