package testutil

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/MarkSG93/2fa-stats-sub000/internal/database"
	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// NewTestStore creates an in-memory SQLite store with migrations applied.
// The store is closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	s, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	return s
}

// ErrCommitFailed is returned by batches of a FailingCommitStore.
var ErrCommitFailed = errors.New("commit failed")

// FailingCommitStore wraps a store so that every batch commit fails. The
// underlying transaction is rolled back, so nothing the batch wrote survives.
type FailingCommitStore struct {
	harvest.Store
	Commits atomic.Int64
}

func NewFailingCommitStore(s harvest.Store) *FailingCommitStore {
	return &FailingCommitStore{Store: s}
}

func (s *FailingCommitStore) Begin(ctx context.Context) (harvest.Batch, error) {
	b, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingBatch{Batch: b, commits: &s.Commits}, nil
}

type failingBatch struct {
	harvest.Batch
	commits *atomic.Int64
}

func (b *failingBatch) Commit() error {
	b.commits.Add(1)
	if err := b.Batch.Rollback(); err != nil {
		return err
	}
	return ErrCommitFailed
}
