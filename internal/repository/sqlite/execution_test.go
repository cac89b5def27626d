package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/python-sandbox/internal/apperror"
	"github.com/sakif/python-sandbox/internal/model"
	"github.com/sakif/python-sandbox/internal/repository"
)

// newTestDB returns a fresh in-memory database closed at the end of the test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := &model.Execution{
		CodeSHA256:   "abc",
		Requirements: []string{"numpy", "pandas>=2"},
		Status:       model.StatusSuccess,
		Duration:     1500 * time.Millisecond,
	}
	require.NoError(t, db.Create(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	got, err := db.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "abc", got.CodeSHA256)
	assert.Equal(t, []string{"numpy", "pandas>=2"}, got.Requirements)
	assert.Equal(t, model.StatusSuccess, got.Status)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
}

func TestCreate_KeepsGivenID(t *testing.T) {
	db := newTestDB(t)

	e := &model.Execution{ID: "cv37rs3pp9olc6atsptg", Status: model.StatusTimeout, Error: "execution timeout after 50ms"}
	require.NoError(t, db.Create(context.Background(), e))
	assert.Equal(t, "cv37rs3pp9olc6atsptg", e.ID)

	got, err := db.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "execution timeout after 50ms", got.Error)
	assert.Equal(t, []string{}, got.Requirements)
}

func TestCreate_DuplicateID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(ctx, &model.Execution{ID: "dup", Status: model.StatusSuccess}))
	assert.Error(t, db.Create(ctx, &model.Execution{ID: "dup", Status: model.StatusSuccess}))
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(ctx, &model.Execution{
			ID:        fmt.Sprintf("exec-%d", i),
			Status:    model.StatusSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	t.Run("newest first", func(t *testing.T) {
		list, err := db.List(ctx, repository.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 5)
		assert.Equal(t, "exec-4", list[0].ID)
		assert.Equal(t, "exec-0", list[4].ID)
	})

	t.Run("limit and offset", func(t *testing.T) {
		list, err := db.List(ctx, repository.ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "exec-3", list[0].ID)
		assert.Equal(t, "exec-2", list[1].ID)
	})

	t.Run("empty page", func(t *testing.T) {
		list, err := db.List(ctx, repository.ListOptions{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.NotNil(t, list)
	})
}
