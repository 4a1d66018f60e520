package harvest

import (
	"context"
	"io"
)

// Archive stores published cache snapshots.
type Archive interface {
	// PutSnapshot stores a named snapshot. size is the number of bytes that
	// will be read from r; version is stored alongside for ordering.
	PutSnapshot(ctx context.Context, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes a stored snapshot to w.
	GetSnapshot(ctx context.Context, name string, w io.Writer) error

	// SnapshotVersion returns the version stored with name, or 0 if absent.
	SnapshotVersion(ctx context.Context, name string) (int64, error)

	// ListSnapshots returns the names stored under prefix, sorted.
	ListSnapshots(ctx context.Context, prefix string) ([]string, error)

	// ValidateSetup checks that the archive is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// Encryptor encrypts snapshots before they leave the host.
type Encryptor interface {
	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Extension is appended to the snapshot name, e.g. ".age".
	Extension() string
}
