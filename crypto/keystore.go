package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// ErrBadPassphrase is returned when a keystore cannot be decrypted with the
// supplied passphrase.
var ErrBadPassphrase = errors.New("crypto: keystore passphrase rejected")

// KeystoreParams selects the scrypt cost of an encrypted keystore.
type KeystoreParams struct {
	ScryptN int
	ScryptP int
}

var (
	// StandardKeystoreParams is used for settlement signer keystores.
	StandardKeystoreParams = KeystoreParams{ScryptN: keystore.StandardScryptN, ScryptP: keystore.StandardScryptP}
	// LightKeystoreParams trades strength for speed in tests and dev mode.
	LightKeystoreParams = KeystoreParams{ScryptN: keystore.LightScryptN, ScryptP: keystore.LightScryptP}
)

// SaveToKeystore encrypts key into an Ethereum v3 keystore at path using the
// standard scrypt cost.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	return SaveToKeystoreWithParams(path, key, passphrase, StandardKeystoreParams)
}

// SaveToKeystoreWithParams writes the keystore atomically with 0600
// permissions, creating the parent directory with 0700 if needed.
func SaveToKeystoreWithParams(path string, key *PrivateKey, passphrase string, params KeystoreParams) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("crypto: keystore id: %w", err)
	}
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key.PrivateKey,
	}, passphrase, params.ScryptN, params.ScryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt keystore: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if errors.Is(err, keystore.ErrDecrypt) {
		return nil, ErrBadPassphrase
	}
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
