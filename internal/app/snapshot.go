package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkSG93/2fa-stats-sub000/internal/encryption"
)

// snapshotter is a store that can copy itself into a standalone file.
type snapshotter interface {
	SnapshotTo(ctx context.Context, destPath string) error
}

// publishSnapshot copies the cache to a temp file, encrypts it if configured
// and uploads it with the run id as version.
func (a *App) publishSnapshot(ctx context.Context) error {
	snap, ok := a.store.(snapshotter)
	if !ok {
		a.logger.Warn("snapshot publishing skipped: store cannot be snapshotted", "database", a.cfg.Database.Type)
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "2fa-stats-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	upload := filepath.Join(tmpDir, "cache.db")
	if err := snap.SnapshotTo(ctx, upload); err != nil {
		return fmt.Errorf("snapshotting cache: %w", err)
	}

	name := a.run.SnapshotName()
	if a.encryptor != nil {
		encrypted := upload + a.encryptor.Extension()
		if err := encryptFile(a.encryptor, upload, encrypted); err != nil {
			return err
		}
		upload = encrypted
		name += a.encryptor.Extension()
	}

	f, err := os.Open(upload)
	if err != nil {
		return fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	if err := a.archive.PutSnapshot(ctx, name, f, info.Size(), a.run.ID); err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}
	a.logger.Info("snapshot published", "name", name, "bytes", info.Size(), "version", a.run.ID)
	return nil
}

func encryptFile(enc encryption.KeyedEncryptor, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	if err := enc.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return out.Close()
}

// Snapshots lists the published snapshots of the environment.
func (a *App) Snapshots(ctx context.Context) ([]string, error) {
	if a.archive == nil {
		return nil, fmt.Errorf("no archive configured")
	}
	return a.archive.ListSnapshots(ctx, SnapshotPrefix(a.env.Name))
}

// PullSnapshot downloads a snapshot into dest, decrypting it with the
// passphrase when its name carries the encryptor's extension.
func (a *App) PullSnapshot(ctx context.Context, name, dest, passphrase string) error {
	if a.archive == nil {
		return fmt.Errorf("no archive configured")
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	if a.encryptor == nil || !strings.HasSuffix(name, a.encryptor.Extension()) {
		err = a.archive.GetSnapshot(ctx, name, out)
	} else {
		err = a.pullEncrypted(ctx, name, out, passphrase)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}

func (a *App) pullEncrypted(ctx context.Context, name string, w io.Writer, passphrase string) error {
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking snapshot key: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.archive.GetSnapshot(ctx, name, pw))
	}()
	defer pr.Close()

	if err := dec.Decrypt(pr, w); err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	return nil
}
