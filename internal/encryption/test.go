package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// testHeader marks TestEncryptor output so it differs from the plaintext
// while staying deterministic.
var testHeader = []byte("2FAENC\x00\x00")

// ErrWrongPassphrase is returned by TestEncryptor.Unlock.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// TestEncryptor frames snapshots with a fixed header instead of encrypting
// them. It holds no key material; a passphrase given to Setup must be
// repeated to Unlock.
type TestEncryptor struct {
	passphrase string
}

var _ KeyedEncryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Extension() string { return ".test" }

func (e *TestEncryptor) Recipient() (string, error) { return "test", nil }

func (e *TestEncryptor) IsConfigured() bool { return true }

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	_, err := io.Copy(w, r)
	return err
}

func (e *TestEncryptor) Unlock(passphrase string) (Decrypter, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return TestDecrypter{}, nil
}

// TestDecrypter strips the TestEncryptor header.
type TestDecrypter struct{}

func (TestDecrypter) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	header, err := br.Peek(len(testHeader))
	if err != nil || !bytes.Equal(header, testHeader) {
		return ErrWrongKey
	}
	if _, err := br.Discard(len(testHeader)); err != nil {
		return err
	}
	_, err = io.Copy(w, br)
	return err
}
