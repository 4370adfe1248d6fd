package cryptokey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/umutcrkn/petshop/internal/cache"
	"github.com/umutcrkn/petshop/internal/errs"
	"github.com/umutcrkn/petshop/internal/remote"
)

type state int

const (
	stateUnloaded state = iota
	stateLoading
	stateLoaded
)

// keyFile is the wire form of config/encryption_key.json.
type keyFile struct {
	Key string `json:"key"` // base64, 32 bytes
}

// Provider resolves the single shared 256-bit key used by all devices.
//
// Resolution order: local cache, then remote, then generate. Before writing
// a self-generated key the remote is checked again, and on a write conflict
// the key that now exists remotely is adopted: two devices bootstrapping
// concurrently must never end up with competing keys.
type Provider struct {
	store remote.Store
	cache *cache.Cache
	log   *zap.Logger

	mu    sync.Mutex
	state state
	key   []byte
}

// NewProvider constructs an unloaded Provider.
// Key creation does not go through the retrying writer: on a write conflict
// the correct outcome is adopting the remote key, not retrying our own.
func NewProvider(store remote.Store, c *cache.Cache, log *zap.Logger) *Provider {
	return &Provider{store: store, cache: c, log: log}
}

// Key returns the shared key, resolving it lazily on first use.
func (p *Provider) Key(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateLoaded {
		return p.key, nil
	}
	return p.resolveLocked(ctx, false)
}

// ForceReload discards the locally cached key and repeats remote-first
// resolution. Used when decryption fails, which signals the local key is
// stale relative to the one another device used to encrypt the data.
func (p *Provider) ForceReload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateUnloaded
	p.key = nil
	_, err := p.resolveLocked(ctx, true)
	return err
}

// Encrypt seals plaintext with the current key and returns base64 ciphertext.
func (p *Provider) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := p.Key(ctx)
	if err != nil {
		return "", err
	}
	return Seal(key, []byte(plaintext))
}

// Decrypt opens base64 ciphertext. On authentication failure it reloads the
// key from remote once and retries; a second failure yields an empty string
// and errs.ErrDecryptFailed, which callers treat as a password mismatch.
func (p *Provider) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	key, err := p.Key(ctx)
	if err != nil {
		return "", err
	}
	if pt, err := Open(key, ciphertext); err == nil {
		return string(pt), nil
	}

	if err := p.ForceReload(ctx); err != nil {
		p.log.Warn("key reload after decrypt failure", zap.Error(err))
		return "", errs.ErrDecryptFailed
	}
	key, err = p.Key(ctx)
	if err != nil {
		return "", errs.ErrDecryptFailed
	}
	pt, err := Open(key, ciphertext)
	if err != nil {
		return "", errs.ErrDecryptFailed
	}
	return string(pt), nil
}

// resolveLocked implements Unloaded -> Loading -> Loaded. mu must be held.
func (p *Provider) resolveLocked(ctx context.Context, skipCache bool) ([]byte, error) {
	p.state = stateLoading

	if !skipCache {
		if key := p.cachedKey(); key != nil {
			p.adopt(key)
			return p.key, nil
		}
	}

	key, err := p.fetchRemote(ctx)
	if err != nil && !errors.Is(err, errs.ErrNoConnection) {
		p.state = stateUnloaded
		return nil, err
	}
	if key != nil {
		p.mirror(key)
		p.adopt(key)
		return p.key, nil
	}
	if err != nil {
		// no remote configured: fall back to cache even on forced reload,
		// or mint a device-local key so the app stays usable offline
		if cached := p.cachedKey(); cached != nil {
			p.adopt(cached)
			return p.key, nil
		}
		local, rerr := RandBytes(KeyLen)
		if rerr != nil {
			p.state = stateUnloaded
			return nil, rerr
		}
		p.mirror(local)
		p.adopt(local)
		return p.key, nil
	}

	return p.bootstrap(ctx)
}

// bootstrap generates a key and publishes it, resolving creation races in
// favor of whichever key reaches the remote store first.
func (p *Provider) bootstrap(ctx context.Context) ([]byte, error) {
	fresh, err := RandBytes(KeyLen)
	if err != nil {
		p.state = stateUnloaded
		return nil, err
	}

	// double-check: another device may have published a key since the read
	if existing, err := p.fetchRemote(ctx); err == nil && existing != nil {
		p.mirror(existing)
		p.adopt(existing)
		return p.key, nil
	}

	data, err := json.Marshal(keyFile{Key: base64.StdEncoding.EncodeToString(fresh)})
	if err != nil {
		p.state = stateUnloaded
		return nil, err
	}
	err = p.store.Write(ctx, remote.KeyPath, data, "Create encryption key")
	if errors.Is(err, errs.ErrConflict) {
		existing, rerr := p.fetchRemote(ctx)
		if rerr != nil || existing == nil {
			p.state = stateUnloaded
			return nil, fmt.Errorf("key bootstrap race unresolved: %w", err)
		}
		p.log.Info("adopted concurrently created encryption key")
		p.mirror(existing)
		p.adopt(existing)
		return p.key, nil
	}
	if err != nil {
		p.state = stateUnloaded
		return nil, err
	}

	p.mirror(fresh)
	p.adopt(fresh)
	return p.key, nil
}

func (p *Provider) fetchRemote(ctx context.Context) ([]byte, error) {
	data, err := p.store.Read(ctx, remote.KeyPath)
	if err != nil || data == nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: encryption key file: %v", errs.ErrDecoding, err)
	}
	key, err := base64.StdEncoding.DecodeString(kf.Key)
	if err != nil || len(key) != KeyLen {
		return nil, fmt.Errorf("%w: encryption key malformed", errs.ErrDecoding)
	}
	return key, nil
}

func (p *Provider) cachedKey() []byte {
	data, err := p.cache.Read(remote.KeyPath)
	if err != nil || data == nil {
		return nil
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(kf.Key)
	if err != nil || len(key) != KeyLen {
		return nil
	}
	return key
}

func (p *Provider) mirror(key []byte) {
	data, err := json.Marshal(keyFile{Key: base64.StdEncoding.EncodeToString(key)})
	if err == nil {
		err = p.cache.Write(remote.KeyPath, data)
	}
	if err != nil {
		p.log.Warn("mirror encryption key to cache", zap.Error(err))
	}
}

func (p *Provider) adopt(key []byte) {
	p.key = key
	p.state = stateLoaded
}
