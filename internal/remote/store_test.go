package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umutcrkn/petshop/internal/errs"
)

type fakeStore struct {
	files map[string][]byte

	readErrs  []error // consumed per Read call
	writeErrs []error // consumed per Write call
	writes    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string][]byte{}}
}

func (f *fakeStore) Read(_ context.Context, path string) ([]byte, error) {
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.files[path], nil
}

func (f *fakeStore) Write(_ context.Context, path string, data []byte, _ string) error {
	f.writes++
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	f.files[path] = data
	return nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
}

func TestWriteMerged_RetriesConflictThenSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	fs.files["companies/companies.json"] = []byte(`old`)
	fs.writeErrs = []error{errs.ErrConflict, errs.ErrConflict}

	var seen [][]byte
	err := WriteMerged(ctx, fs, fastRetry(), "companies/companies.json", func(remote []byte) ([]byte, error) {
		seen = append(seen, remote)
		return []byte(`new`), nil
	}, "update")
	require.NoError(t, err)
	require.Equal(t, []byte(`new`), fs.files["companies/companies.json"])
	// merge re-ran with a fresh read on every attempt
	require.Len(t, seen, 3)
	require.Equal(t, 3, fs.writes)
}

func TestWriteMerged_ExhaustsRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	fs.writeErrs = []error{errs.ErrConflict, errs.ErrConflict, errs.ErrConflict}

	err := WriteMerged(ctx, fs, fastRetry(), "data/products.json", func([]byte) ([]byte, error) {
		return []byte(`x`), nil
	}, "update")
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Equal(t, 3, fs.writes)
}

func TestWriteMerged_TransientReadRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	fs.readErrs = []error{errs.ErrTransient}

	err := WriteMerged(ctx, fs, fastRetry(), "data/products.json", func([]byte) ([]byte, error) {
		return []byte(`x`), nil
	}, "update")
	require.NoError(t, err)
	require.Equal(t, 1, fs.writes)
}

func TestWriteMerged_NonRetryableSurfacesImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	fs.writeErrs = []error{errs.ErrNoConnection}

	err := WriteMerged(ctx, fs, fastRetry(), "data/products.json", func([]byte) ([]byte, error) {
		return []byte(`x`), nil
	}, "update")
	require.ErrorIs(t, err, errs.ErrNoConnection)
	require.Equal(t, 1, fs.writes)
}

func TestWriteMerged_MergeErrorAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	wantErr := errors.New("bad content")
	err := WriteMerged(ctx, fs, fastRetry(), "data/products.json", func([]byte) ([]byte, error) {
		return nil, wantErr
	}, "update")
	require.ErrorIs(t, err, wantErr)
	require.Zero(t, fs.writes)
}

func TestValidPath(t *testing.T) {
	t.Parallel()

	valid := []string{CompaniesPath, KeyPath, AdminProductsPath, ProductsPath("abc"), SalesPath("abc")}
	for _, p := range valid {
		require.True(t, ValidPath(p), p)
	}
	invalid := []string{"", "/etc/passwd", "companies/../secret", "other/file.json"}
	for _, p := range invalid {
		require.False(t, ValidPath(p), p)
	}
}
