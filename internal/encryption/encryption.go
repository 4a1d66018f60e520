// Package encryption provides the snapshot encryptors.
package encryption

import (
	"io"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// Decrypter reverses a KeyedEncryptor's output.
type Decrypter interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// KeyedEncryptor is an encryptor whose key material lives on disk and can be
// generated and unlocked from the CLI.
type KeyedEncryptor interface {
	harvest.Encryptor

	// Setup generates and stores a new key pair, sealing the private half
	// with passphrase.
	Setup(passphrase string) error

	// Unlock returns a Decrypter for data produced by Encrypt.
	Unlock(passphrase string) (Decrypter, error)

	// IsConfigured reports whether the key material exists.
	IsConfigured() bool

	// Recipient describes the public key snapshots are sealed for.
	Recipient() (string, error)
}
