package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x11}, AddressLength)
	addr := NewAddress(IdentityPrefix, raw)

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, IdentityPrefix, decoded.Prefix())
	require.Equal(t, raw, decoded.Bytes())
	require.Equal(t, addr.String(), FormatOwner(raw))
	require.Equal(t, "0x0102", FormatOwner([]byte{0x01, 0x02}))
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	_, err := DecodeAddress("not-an-address")
	require.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	digest := ethcrypto.Keccak256([]byte("asset-unlock"))
	sig, err := key.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	signer, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Bytes(), signer.Bytes())
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signer", "key.json")
	require.NoError(t, SaveToKeystoreWithParams(path, key, "correct horse", LightKeystoreParams))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.ErrorIs(t, err, ErrBadPassphrase)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
