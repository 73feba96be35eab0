// Package signer writes and checks armored detached OpenPGP signatures over
// bundle archives.
package signer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
)

const (
	// SignatureExt is appended to the archive path to name its signature.
	SignatureExt = ".asc"
	// PublicKeyExt is appended to the library name to name the exported public key.
	PublicKeyExt = ".pub.asc"
)

var (
	// errNoPrivateKey is returned when the key file holds only public keys.
	errNoPrivateKey = errors.New("key file contains no private key")
	// errPassphraseRequired is returned for an encrypted key without a passphrase.
	errPassphraseRequired = errors.New("private key is encrypted and no passphrase is set")
)

// Signer signs files with one private key.
type Signer struct {
	// entity holds the decrypted private key.
	entity *openpgp.Entity
	// keyring verifies signatures made by entity.
	keyring openpgp.EntityList
}

// New creates a Signer for an entity whose private keys are already decrypted.
func New(entity *openpgp.Entity) *Signer {
	return &Signer{
		entity:  entity,
		keyring: openpgp.EntityList{entity},
	}
}

// Load reads an armored private key from keyFile and decrypts it with passphrase when needed.
func Load(keyFile, passphrase string) (*Signer, error) {
	f, err := os.Open(filepath.Clean(keyFile))
	if err != nil {
		return nil, fmt.Errorf("open signing key: %w", err)
	}

	defer f.Close() //nolint:errcheck // Read-only file.

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	for _, entity := range entities {
		if entity.PrivateKey == nil {
			continue
		}

		if err = decrypt(entity, passphrase); err != nil {
			return nil, err
		}

		return New(entity), nil
	}

	return nil, errNoPrivateKey
}

// decrypt unlocks the primary key and every signing-capable subkey.
func decrypt(entity *openpgp.Entity, passphrase string) error {
	if entity.PrivateKey.Encrypted {
		if passphrase == "" {
			return errPassphraseRequired
		}

		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return fmt.Errorf("decrypt signing key: %w", err)
		}
	}

	for _, subkey := range entity.Subkeys {
		if subkey.PrivateKey == nil || !subkey.PrivateKey.Encrypted {
			continue
		}

		if err := subkey.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return fmt.Errorf("decrypt signing subkey: %w", err)
		}
	}

	return nil
}

// KeyID returns the hex id of the primary key.
func (s *Signer) KeyID() string {
	return s.entity.PrimaryKey.KeyIdString()
}

// SignFile writes path+SignatureExt and checks it before returning its path.
func (s *Signer) SignFile(path string) (string, error) {
	content, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer content.Close() //nolint:errcheck // Read-only file.

	var signature bytes.Buffer
	if err = openpgp.ArmoredDetachSign(&signature, s.entity, content, nil); err != nil {
		return "", fmt.Errorf("sign %s: %w", path, err)
	}

	sigPath := path + SignatureExt
	if err = os.WriteFile(sigPath, signature.Bytes(), 0o644); err != nil { //nolint:gosec // Signatures are public.
		return "", fmt.Errorf("write signature: %w", err)
	}

	if err = s.Verify(path, sigPath); err != nil {
		return "", err
	}

	return sigPath, nil
}

// Verify checks the armored detached signature at sigPath over path.
func (s *Signer) Verify(path, sigPath string) error {
	return VerifyWith(s.keyring, path, sigPath)
}

// VerifyWith checks a signature against keyring.
func VerifyWith(keyring openpgp.KeyRing, path, sigPath string) error {
	content, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer content.Close() //nolint:errcheck // Read-only file.

	signature, err := os.Open(filepath.Clean(sigPath))
	if err != nil {
		return err
	}

	defer signature.Close() //nolint:errcheck // Read-only file.

	if _, err = openpgp.CheckArmoredDetachedSignature(keyring, content, signature, nil); err != nil {
		return fmt.Errorf("verify signature of %s: %w", path, err)
	}

	return nil
}

// PublicKey writes the armored public key of the signer to w.
func (s *Signer) PublicKey(w io.Writer) error {
	return serializePublic(w, s.entity)
}

// WritePublicKey stores the armored public key at path so consumers can check signatures.
func (s *Signer) WritePublicKey(path string) error {
	var buf bytes.Buffer
	if err := s.PublicKey(&buf); err != nil {
		return fmt.Errorf("export public key: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil { //nolint:gosec // Public keys are public.
		return fmt.Errorf("write public key: %w", err)
	}

	return nil
}
