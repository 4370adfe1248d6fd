package cryptokey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/umutcrkn/petshop/internal/cache"
	"github.com/umutcrkn/petshop/internal/errs"
	"github.com/umutcrkn/petshop/internal/remote"
)

type fakeStore struct {
	files  map[string][]byte
	reads  int
	writes int

	// when set, the next Write conflicts and the losing device instead
	// finds this content on re-read, as if another writer won the race
	conflictWith []byte
}

func newFakeStore() *fakeStore { return &fakeStore{files: map[string][]byte{}} }

func (f *fakeStore) Read(_ context.Context, path string) ([]byte, error) {
	f.reads++
	return f.files[path], nil
}

func (f *fakeStore) Write(_ context.Context, path string, data []byte, _ string) error {
	f.writes++
	if f.conflictWith != nil {
		f.files[path] = f.conflictWith
		f.conflictWith = nil
		return errs.ErrConflict
	}
	f.files[path] = data
	return nil
}

func (f *fakeStore) setKey(key []byte) {
	data, _ := json.Marshal(map[string]string{"key": base64.StdEncoding.EncodeToString(key)})
	f.files[remote.KeyPath] = data
}

func newProvider(t *testing.T, fs *fakeStore) (*Provider, *cache.Cache) {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	return NewProvider(fs, c, zaptest.NewLogger(t)), c
}

func TestProvider_GeneratesWhenEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	p, c := newProvider(t, fs)

	key, err := p.Key(ctx)
	require.NoError(t, err)
	require.Len(t, key, KeyLen)

	// published remotely and mirrored locally
	require.NotNil(t, fs.files[remote.KeyPath])
	cached, err := c.Read(remote.KeyPath)
	require.NoError(t, err)
	require.NotNil(t, cached)

	// second call is served from memory
	reads := fs.reads
	again, err := p.Key(ctx)
	require.NoError(t, err)
	require.Equal(t, key, again)
	require.Equal(t, reads, fs.reads)
}

func TestProvider_AdoptsExistingRemoteKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	want, _ := RandBytes(KeyLen)
	fs := newFakeStore()
	fs.setKey(want)
	p, _ := newProvider(t, fs)

	got, err := p.Key(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Zero(t, fs.writes)
}

func TestProvider_PrefersCacheOverRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cachedKey, _ := RandBytes(KeyLen)
	remoteKey, _ := RandBytes(KeyLen)

	fs := newFakeStore()
	fs.setKey(remoteKey)
	p, c := newProvider(t, fs)
	data, _ := json.Marshal(map[string]string{"key": base64.StdEncoding.EncodeToString(cachedKey)})
	require.NoError(t, c.Write(remote.KeyPath, data))

	got, err := p.Key(ctx)
	require.NoError(t, err)
	require.Equal(t, cachedKey, got)

	// ForceReload discards the cached key and takes the remote one
	require.NoError(t, p.ForceReload(ctx))
	got, err = p.Key(ctx)
	require.NoError(t, err)
	require.Equal(t, remoteKey, got)
}

func TestProvider_BootstrapRace_RemoteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	winner, _ := RandBytes(KeyLen)
	winnerFile, _ := json.Marshal(map[string]string{"key": base64.StdEncoding.EncodeToString(winner)})

	fs := newFakeStore()
	fs.conflictWith = winnerFile
	p, _ := newProvider(t, fs)

	got, err := p.Key(ctx)
	require.NoError(t, err)
	require.Equal(t, winner, got)
	// the self-generated key was discarded, not written over the winner's
	require.Equal(t, winnerFile, fs.files[remote.KeyPath])
}

func TestProvider_DecryptReloadsOnceThenFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	oldKey, _ := RandBytes(KeyLen)
	newKey, _ := RandBytes(KeyLen)

	fs := newFakeStore()
	fs.setKey(newKey)
	p, c := newProvider(t, fs)

	// device still holds the stale key locally
	data, _ := json.Marshal(map[string]string{"key": base64.StdEncoding.EncodeToString(oldKey)})
	require.NoError(t, c.Write(remote.KeyPath, data))

	// ciphertext produced by another device under the rotated key
	ct, err := Seal(newKey, []byte("pass123"))
	require.NoError(t, err)

	got, err := p.Decrypt(ctx, ct)
	require.NoError(t, err)
	require.Equal(t, "pass123", got)

	// garbage never decrypts: sentinel, not a crash
	_, err = p.Decrypt(ctx, base64.StdEncoding.EncodeToString([]byte("garbage-garbage")))
	require.ErrorIs(t, err, errs.ErrDecryptFailed)
}

func TestProvider_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p, _ := newProvider(t, newFakeStore())
	ct, err := p.Encrypt(ctx, "pass123")
	require.NoError(t, err)
	got, err := p.Decrypt(ctx, ct)
	require.NoError(t, err)
	require.Equal(t, "pass123", got)
}
