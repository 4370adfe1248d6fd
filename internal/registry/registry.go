// Package registry manages the multi-tenant company list: registration,
// login, password changes, trial extension and expiry reaping. The company
// list lives in one shared remote file; every mutation replays against the
// freshest remote copy through the retrying writer.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/umutcrkn/petshop/internal/cache"
	"github.com/umutcrkn/petshop/internal/cryptokey"
	"github.com/umutcrkn/petshop/internal/errs"
	"github.com/umutcrkn/petshop/internal/model"
	"github.com/umutcrkn/petshop/internal/remote"
)

// DefaultTrialDays is the trial window granted on registration.
const DefaultTrialDays = 10

// Registry holds the loaded company list and the active session.
// One logical writer per device: no internal locking beyond the key provider.
type Registry struct {
	store remote.Store
	cache *cache.Cache
	keys  *cryptokey.Provider
	log   *zap.Logger
	retry remote.RetryPolicy

	trialDays        int
	fallbackPassword string // legacy admin default, overridable via config

	companies []model.Company
	current   *model.Company
	admin     bool
}

// Options tune registry behaviour; zero values pick the defaults.
type Options struct {
	TrialDays        int
	FallbackPassword string
	Retry            remote.RetryPolicy
}

// New constructs a Registry. Call Load before using lookups.
func New(store remote.Store, c *cache.Cache, keys *cryptokey.Provider, opts Options, log *zap.Logger) *Registry {
	trialDays := opts.TrialDays
	if trialDays <= 0 {
		trialDays = DefaultTrialDays
	}
	return &Registry{
		store:            store,
		cache:            c,
		keys:             keys,
		log:              log,
		retry:            opts.Retry,
		trialDays:        trialDays,
		fallbackPassword: opts.FallbackPassword,
	}
}

// Load refreshes the company list from the remote store. On remote failure
// it falls back to the cached snapshot and returns an advisory warning;
// the error return is reserved for unusable local state.
func (r *Registry) Load(ctx context.Context) (warning string, err error) {
	data, rerr := r.store.Read(ctx, remote.CompaniesPath)
	if rerr != nil {
		warning = fmt.Sprintf("remote unavailable, using local data: %v", rerr)
		r.log.Warn("load companies from remote", zap.Error(rerr))
		data, err = r.cache.Read(remote.CompaniesPath)
		if err != nil {
			return warning, err
		}
	}
	companies, derr := decodeCompanies(data)
	if derr != nil {
		return warning, derr
	}
	r.companies = companies
	if rerr == nil && data != nil {
		if cerr := r.cache.Write(remote.CompaniesPath, data); cerr != nil {
			r.log.Warn("mirror companies to cache", zap.Error(cerr))
		}
	}
	r.restoreCurrent()
	return warning, nil
}

// Companies returns the loaded company list.
func (r *Registry) Companies() []model.Company {
	return r.companies
}

// Current returns the active company, or nil for none (or an admin session).
func (r *Registry) Current() *model.Company {
	return r.current
}

// IsAdmin reports whether the reserved admin identity is active.
func (r *Registry) IsAdmin() bool {
	return r.admin
}

// Register creates a company, persists the updated list, provisions its two
// empty data files and makes it the active company.
func (r *Registry) Register(ctx context.Context, name, username, password string) (model.Company, error) {
	username = strings.TrimSpace(username)
	if name == "" || username == "" || password == "" {
		return model.Company{}, errs.ErrInvalidCredentials
	}
	if r.findByUsername(username) != nil {
		return model.Company{}, errs.ErrUsernameExists
	}

	encrypted, err := r.keys.Encrypt(ctx, password)
	if err != nil {
		return model.Company{}, fmt.Errorf("encrypt password: %w", err)
	}
	company := model.NewCompany(name, username, encrypted, r.trialDays)

	err = r.updateCompanies(ctx, "Register company", func(list []model.Company) ([]model.Company, error) {
		for _, c := range list {
			if strings.EqualFold(c.Username, username) {
				return nil, errs.ErrUsernameExists
			}
		}
		return append(list, company), nil
	})
	if err != nil {
		return model.Company{}, err
	}

	r.setCurrent(&company)

	if err := r.provisionDataFiles(ctx, company.ID); err != nil {
		// the company is already in the remote list; keep the session and
		// report the pending provisioning instead of a bare failure. A
		// missing data file reads as an empty collection and is created by
		// the first sync.
		return company, fmt.Errorf("company %s created, but provisioning its data files failed: %w", company.Name, err)
	}
	return company, nil
}

// Login authenticates a company by username and password. The encryption key
// is force-reloaded from remote first: another device may have rotated it,
// and a stale local key would produce false credential failures.
//
// An expired trial fails the login without deleting anything; reaping expired
// tenants is the explicit ReapExpiredTrials maintenance operation.
func (r *Registry) Login(ctx context.Context, username, password string) (model.Company, error) {
	if err := r.keys.ForceReload(ctx); err != nil {
		r.log.Warn("force key reload before login", zap.Error(err))
	}

	company := r.findByUsername(username)
	if company == nil {
		return model.Company{}, errs.ErrCompanyNotFound
	}
	if company.TrialExpired(time.Now()) {
		return model.Company{}, errs.ErrTrialExpired
	}

	decrypted, err := r.keys.Decrypt(ctx, company.EncryptedPassword)
	if err != nil || decrypted != password {
		return model.Company{}, errs.ErrInvalidCredentials
	}

	r.setCurrent(company)
	return *company, nil
}

// LoginAdmin authenticates the reserved admin pseudo-identity against the
// device-local password. On first use the configured fallback password is
// accepted and immediately replaced by an Argon2id hash at rest.
func (r *Registry) LoginAdmin(password string) error {
	st, err := r.cache.Settings()
	if err != nil {
		return err
	}
	if len(st.AdminPasswordHash) > 0 {
		if !cryptokey.VerifyPassword([]byte(password), st.AdminPasswordSalt, st.AdminPasswordHash) {
			return errs.ErrInvalidCredentials
		}
	} else {
		if password != r.fallbackPassword {
			return errs.ErrInvalidCredentials
		}
		if err := r.SetAdminPassword(password); err != nil {
			r.log.Warn("store admin password hash", zap.Error(err))
		}
	}
	r.current = nil
	r.admin = true
	// persist the session so a fresh process restores the admin scope
	st, err = r.cache.Settings()
	if err == nil {
		st.Admin = true
		st.CurrentCompanyID = ""
		err = r.cache.SaveSettings(st)
	}
	if err != nil {
		r.log.Warn("persist admin session", zap.Error(err))
	}
	return nil
}

// SetAdminPassword replaces the device-local admin password hash.
func (r *Registry) SetAdminPassword(password string) error {
	salt, err := cryptokey.RandBytes(16)
	if err != nil {
		return err
	}
	st, err := r.cache.Settings()
	if err != nil {
		return err
	}
	st.AdminPasswordSalt = salt
	st.AdminPasswordHash = cryptokey.HashPassword([]byte(password), salt)
	return r.cache.SaveSettings(st)
}

// SelectCompany makes the given company the active one.
func (r *Registry) SelectCompany(id string) (model.Company, error) {
	c := r.findByID(id)
	if c == nil {
		return model.Company{}, errs.ErrCompanyNotFound
	}
	r.setCurrent(c)
	return *c, nil
}

// Logout clears the active session.
func (r *Registry) Logout() {
	r.current = nil
	r.admin = false
	st, err := r.cache.Settings()
	if err == nil {
		st.CurrentCompanyID = ""
		st.Admin = false
		err = r.cache.SaveSettings(st)
	}
	if err != nil {
		r.log.Warn("clear session", zap.Error(err))
	}
}

// ChangePassword verifies the current password by decrypt-and-compare, then
// re-encrypts the new one and persists the list remotely.
func (r *Registry) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	if r.current == nil {
		return errs.ErrCompanyNotFound
	}
	if newPassword == "" {
		return errs.ErrInvalidCredentials
	}
	decrypted, err := r.keys.Decrypt(ctx, r.current.EncryptedPassword)
	if err != nil || decrypted != currentPassword {
		return errs.ErrInvalidCredentials
	}
	encrypted, err := r.keys.Encrypt(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}

	id := r.current.ID
	err = r.updateCompanies(ctx, "Change company password", func(list []model.Company) ([]model.Company, error) {
		for i := range list {
			if list[i].ID == id {
				list[i].EncryptedPassword = encrypted
				return list, nil
			}
		}
		return nil, errs.ErrCompanyNotFound
	})
	if err != nil {
		return err
	}
	r.current = r.findByID(id)
	return nil
}

// Delete removes the company from the registry and overwrites its data files
// with empty collections. The files stay in history; only content is cleared.
func (r *Registry) Delete(ctx context.Context, id string) error {
	err := r.updateCompanies(ctx, "Delete company", func(list []model.Company) ([]model.Company, error) {
		out := list[:0]
		found := false
		for _, c := range list {
			if c.ID == id {
				found = true
				continue
			}
			out = append(out, c)
		}
		if !found {
			return nil, errs.ErrCompanyNotFound
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	if err := r.provisionDataFiles(ctx, id); err != nil {
		// registry entry is already gone; surface but do not resurrect
		r.log.Error("clear deleted company data", zap.String("company", id), zap.Error(err))
		return err
	}
	if r.current != nil && r.current.ID == id {
		r.Logout()
	}
	return nil
}

// ExtendTrial pushes a company's trial expiry forward. Extensions stack on an
// unexpired trial and restart from now on an expired one.
func (r *Registry) ExtendTrial(ctx context.Context, id string, days int) (model.Company, error) {
	if days <= 0 {
		return model.Company{}, fmt.Errorf("extend trial: days must be positive")
	}
	now := time.Now()
	err := r.updateCompanies(ctx, "Extend company trial", func(list []model.Company) ([]model.Company, error) {
		for i := range list {
			if list[i].ID == id {
				if list[i].TrialExpired(now) {
					list[i].TrialExpiresAt = now.AddDate(0, 0, days)
				} else {
					list[i].TrialExpiresAt = list[i].TrialExpiresAt.AddDate(0, 0, days)
				}
				return list, nil
			}
		}
		return nil, errs.ErrCompanyNotFound
	})
	if err != nil {
		return model.Company{}, err
	}
	c := r.findByID(id)
	if r.current != nil && r.current.ID == id {
		r.current = c
	}
	return *c, nil
}

// ReapExpiredTrials deletes every company whose trial has expired. Failures
// are accumulated; one broken tenant does not stop the sweep.
func (r *Registry) ReapExpiredTrials(ctx context.Context) (int, error) {
	now := time.Now()
	var expired []string
	for _, c := range r.companies {
		if c.TrialExpired(now) {
			expired = append(expired, c.ID)
		}
	}

	var reaped int
	var errAll error
	for _, id := range expired {
		if err := r.Delete(ctx, id); err != nil {
			errAll = multierr.Append(errAll, fmt.Errorf("reap %s: %w", id, err))
			continue
		}
		reaped++
	}
	return reaped, errAll
}

// updateCompanies replays apply against the freshest remote list under the
// retrying writer, then adopts the merged result locally and in the cache.
func (r *Registry) updateCompanies(ctx context.Context, message string, apply func([]model.Company) ([]model.Company, error)) error {
	var merged []model.Company
	err := remote.WriteMerged(ctx, r.store, r.retry, remote.CompaniesPath, func(remoteData []byte) ([]byte, error) {
		base, err := decodeCompanies(remoteData)
		if err != nil {
			// remote copy unreadable: fall back to the loaded list
			r.log.Warn("remote companies file unreadable, using local list", zap.Error(err))
			base = append([]model.Company(nil), r.companies...)
		}
		next, err := apply(base)
		if err != nil {
			return nil, err
		}
		merged = next
		return json.MarshalIndent(next, "", "  ")
	}, message)
	if err != nil {
		if errors.Is(err, errs.ErrNoConnection) {
			return fmt.Errorf("%w: company changes need the remote store", err)
		}
		return err
	}

	r.companies = merged
	data, merr := json.Marshal(merged)
	if merr == nil {
		merr = r.cache.Write(remote.CompaniesPath, data)
	}
	if merr != nil {
		r.log.Warn("mirror companies to cache", zap.Error(merr))
	}
	return nil
}

// provisionDataFiles writes empty product and sale collections for a tenant.
func (r *Registry) provisionDataFiles(ctx context.Context, companyID string) error {
	empty := func([]byte) ([]byte, error) { return []byte("[]"), nil }
	if err := remote.WriteMerged(ctx, r.store, r.retry, remote.ProductsPath(companyID), empty, "Create company database - products"); err != nil {
		return err
	}
	if err := remote.WriteMerged(ctx, r.store, r.retry, remote.SalesPath(companyID), empty, "Create company database - sales"); err != nil {
		return err
	}
	_ = r.cache.Write(remote.ProductsPath(companyID), []byte("[]"))
	_ = r.cache.Write(remote.SalesPath(companyID), []byte("[]"))
	return nil
}

func (r *Registry) setCurrent(c *model.Company) {
	r.admin = false
	r.current = c
	st, err := r.cache.Settings()
	if err == nil {
		st.CurrentCompanyID = c.ID
		st.Admin = false
		err = r.cache.SaveSettings(st)
	}
	if err != nil {
		r.log.Warn("persist current company", zap.Error(err))
	}
}

// restoreCurrent re-attaches the persisted session after a Load.
func (r *Registry) restoreCurrent() {
	st, err := r.cache.Settings()
	if err != nil {
		return
	}
	if st.Admin {
		r.admin = true
		r.current = nil
		return
	}
	if st.CurrentCompanyID == "" {
		return
	}
	r.current = r.findByID(st.CurrentCompanyID)
}

func (r *Registry) findByUsername(username string) *model.Company {
	for i := range r.companies {
		if strings.EqualFold(r.companies[i].Username, username) {
			return &r.companies[i]
		}
	}
	return nil
}

func (r *Registry) findByID(id string) *model.Company {
	for i := range r.companies {
		if r.companies[i].ID == id {
			return &r.companies[i]
		}
	}
	return nil
}

func decodeCompanies(data []byte) ([]model.Company, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var companies []model.Company
	if err := json.Unmarshal(data, &companies); err != nil {
		return nil, fmt.Errorf("%w: companies: %v", errs.ErrDecoding, err)
	}
	return companies, nil
}
