// Package store is the per-tenant catalog and sales store. Mutations apply
// to the in-memory working set and the local cache immediately; the remote
// store only changes on an explicit Sync, which merges by record id before
// writing (local wins on collision, disjoint records are unioned).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/umutcrkn/petshop/internal/cache"
	"github.com/umutcrkn/petshop/internal/errs"
	"github.com/umutcrkn/petshop/internal/model"
	"github.com/umutcrkn/petshop/internal/remote"
)

// DefaultRetentionDays is how long sales stay in the local working set.
// Older sales remain in the remote store; pruning is local only.
const DefaultRetentionDays = 3

// Scope selects whose data the store operates on. The zero Scope means no
// active tenant: reads yield empty state and mutations are rejected.
type Scope struct {
	CompanyID string
	Admin     bool // reserved admin identity, legacy data/ namespace
}

// Active reports whether the scope points at any namespace.
func (s Scope) Active() bool { return s.Admin || s.CompanyID != "" }

func (s Scope) productsPath() string {
	if s.Admin {
		return remote.AdminProductsPath
	}
	return remote.ProductsPath(s.CompanyID)
}

func (s Scope) salesPath() string {
	if s.Admin {
		return remote.AdminSalesPath
	}
	return remote.SalesPath(s.CompanyID)
}

// SaleLine is one cart entry to be turned into a sale item.
type SaleLine struct {
	Barcode  string
	Quantity int
}

// Store holds one tenant's working set of products and sales.
type Store struct {
	remote remote.Store
	cache  *cache.Cache
	log    *zap.Logger
	retry  remote.RetryPolicy

	retentionDays int

	scope    Scope
	products []model.Product
	sales    []model.Sale
}

// Options tune store behaviour; zero values pick the defaults.
type Options struct {
	RetentionDays int
	Retry         remote.RetryPolicy
}

// New constructs a Store with no active scope.
func New(rs remote.Store, c *cache.Cache, opts Options, log *zap.Logger) *Store {
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	return &Store{
		remote:        rs,
		cache:         c,
		log:           log,
		retry:         opts.Retry,
		retentionDays: retention,
	}
}

// SetScope switches the active tenant and clears the working set.
// Call Load afterwards to populate it.
func (s *Store) SetScope(scope Scope) {
	s.scope = scope
	s.products = nil
	s.sales = nil
}

// Scope returns the active scope.
func (s *Store) Scope() Scope { return s.scope }

// Products returns the working set of products.
func (s *Store) Products() []model.Product { return s.products }

// Sales returns the working set of sales.
func (s *Store) Sales() []model.Sale { return s.sales }

// Load reads both data files for the active scope. Remote failures are
// non-fatal: the cached snapshot is used instead and an advisory warning is
// returned. The retention prune runs on the working set after every load.
func (s *Store) Load(ctx context.Context) (warning string, err error) {
	if !s.scope.Active() {
		s.products, s.sales = nil, nil
		return "", nil
	}

	var warns error

	pData, perr := s.readWithFallback(ctx, s.scope.productsPath())
	if perr != nil {
		warns = multierr.Append(warns, perr)
	}
	products, err := decodeProducts(pData)
	if err != nil {
		return "", err
	}

	sData, serr := s.readWithFallback(ctx, s.scope.salesPath())
	if serr != nil {
		warns = multierr.Append(warns, serr)
	}
	sales, err := decodeSales(sData)
	if err != nil {
		return "", err
	}

	s.products = products
	s.sales = s.pruneSales(sales)
	s.mirror()

	if warns != nil {
		return fmt.Sprintf("remote unavailable, using local data: %v", warns), nil
	}
	return "", nil
}

// readWithFallback tries remote first and degrades to the cached snapshot.
func (s *Store) readWithFallback(ctx context.Context, path string) ([]byte, error) {
	data, err := s.remote.Read(ctx, path)
	if err == nil {
		return data, nil
	}
	s.log.Warn("remote read failed, falling back to cache", zap.String("path", path), zap.Error(err))
	cached, cerr := s.cache.Read(path)
	if cerr != nil {
		return nil, multierr.Combine(err, cerr)
	}
	return cached, err
}

// AddProduct appends a product to the working set.
func (s *Store) AddProduct(p model.Product) error {
	if err := s.validateProduct(p); err != nil {
		return err
	}
	s.products = append(s.products, p)
	s.mirror()
	return nil
}

// AddProducts appends products in bulk (CSV import path).
func (s *Store) AddProducts(ps []model.Product) error {
	for _, p := range ps {
		if err := s.validateProduct(p); err != nil {
			return err
		}
	}
	s.products = append(s.products, ps...)
	s.mirror()
	return nil
}

// UpdateProduct replaces the product with the same id.
func (s *Store) UpdateProduct(p model.Product) error {
	if err := s.validateProduct(p); err != nil {
		return err
	}
	for i := range s.products {
		if s.products[i].ID == p.ID {
			s.products[i] = p
			s.mirror()
			return nil
		}
	}
	return errs.ErrNotFound
}

// DeleteProduct removes the product with the given id from the working set.
func (s *Store) DeleteProduct(id uuid.UUID) error {
	if !s.scope.Active() {
		return errs.ErrNotFound
	}
	for i := range s.products {
		if s.products[i].ID == id {
			s.products = append(s.products[:i], s.products[i+1:]...)
			s.mirror()
			return nil
		}
	}
	return errs.ErrNotFound
}

// FindByBarcode returns the product with the given barcode, or nil.
// Barcode uniqueness is enforced by callers via search-before-insert.
func (s *Store) FindByBarcode(barcode string) *model.Product {
	for i := range s.products {
		if s.products[i].Barcode == barcode {
			return &s.products[i]
		}
	}
	return nil
}

// RecordSale turns cart lines into a sale, decrementing stock per line.
// The sale joins the working set and is pushed on the next Sync.
func (s *Store) RecordSale(lines []SaleLine) (model.Sale, error) {
	if !s.scope.Active() {
		return model.Sale{}, fmt.Errorf("no active company")
	}
	if len(lines) == 0 {
		return model.Sale{}, fmt.Errorf("empty sale")
	}

	// quantities are validated as running totals per barcode, so a cart that
	// repeats a product cannot pass line-by-line and drive stock negative
	items := make([]model.SaleItem, 0, len(lines))
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return model.Sale{}, fmt.Errorf("sale quantity must be positive")
		}
		p := s.FindByBarcode(line.Barcode)
		if p == nil {
			return model.Sale{}, fmt.Errorf("barcode %s: %w", line.Barcode, errs.ErrNotFound)
		}
		requested[line.Barcode] += line.Quantity
		if p.Stock < requested[line.Barcode] {
			return model.Sale{}, fmt.Errorf("barcode %s: insufficient stock (%d < %d)", line.Barcode, p.Stock, requested[line.Barcode])
		}
		items = append(items, model.NewSaleItem(p.Name, p.Barcode, line.Quantity, p.Price))
	}
	// all lines validated; apply stock movements
	for barcode, qty := range requested {
		s.FindByBarcode(barcode).Stock -= qty
	}

	sale := model.NewSale(items)
	s.AddSale(sale)
	return sale, nil
}

// AddSale appends a sale and prunes the working set retention window.
func (s *Store) AddSale(sale model.Sale) {
	s.sales = append(s.sales, sale)
	s.sales = s.pruneSales(s.sales)
	s.mirror()
}

// ReturnToStock restores stock for a removed cart line.
func (s *Store) ReturnToStock(barcode string, quantity int) error {
	p := s.FindByBarcode(barcode)
	if p == nil {
		return errs.ErrNotFound
	}
	p.Stock += quantity
	if p.Stock > model.MaxStock {
		p.Stock = model.MaxStock
	}
	s.mirror()
	return nil
}

// SalesByDate returns the sales that happened on the same calendar day.
func (s *Store) SalesByDate(day time.Time) []model.Sale {
	y, m, d := day.Date()
	var out []model.Sale
	for _, sale := range s.sales {
		sy, sm, sd := sale.Date.Date()
		if sy == y && sm == m && sd == d {
			out = append(out, sale)
		}
	}
	return out
}

// SalesGroupedByDay groups the working set by the start of the sale's day.
func (s *Store) SalesGroupedByDay() map[time.Time][]model.Sale {
	grouped := make(map[time.Time][]model.Sale)
	for _, sale := range s.sales {
		y, m, d := sale.Date.Date()
		key := time.Date(y, m, d, 0, 0, 0, 0, sale.Date.Location())
		grouped[key] = append(grouped[key], sale)
	}
	return grouped
}

// Sync pushes the working set remotely with merge-before-write for both
// files. The merged result becomes the new remote content and the new local
// snapshot. Failures on one file do not stop the other; all errors are
// accumulated and returned together.
func (s *Store) Sync(ctx context.Context) error {
	if !s.scope.Active() {
		return nil
	}

	var errAll error

	err := remote.WriteMerged(ctx, s.remote, s.retry, s.scope.productsPath(), func(remoteData []byte) ([]byte, error) {
		remoteProducts, err := decodeProducts(remoteData)
		if err != nil {
			return nil, err
		}
		merged := mergeProducts(remoteProducts, s.products)
		s.products = merged
		return json.MarshalIndent(merged, "", "  ")
	}, "Update products")
	if err != nil {
		errAll = multierr.Append(errAll, fmt.Errorf("sync products: %w", err))
	}

	err = remote.WriteMerged(ctx, s.remote, s.retry, s.scope.salesPath(), func(remoteData []byte) ([]byte, error) {
		remoteSales, err := decodeSales(remoteData)
		if err != nil {
			return nil, err
		}
		merged := mergeSales(remoteSales, s.sales)
		// the remote keeps the full history; the working set stays pruned
		s.sales = s.pruneSales(merged)
		return json.MarshalIndent(merged, "", "  ")
	}, "Update sales")
	if err != nil {
		errAll = multierr.Append(errAll, fmt.Errorf("sync sales: %w", err))
	}

	s.mirror()
	return errAll
}

// ExportSnapshot returns the working set as one JSON blob for backup export.
func (s *Store) ExportSnapshot() ([]byte, error) {
	return json.MarshalIndent(struct {
		Products []model.Product `json:"products"`
		Sales    []model.Sale    `json:"sales"`
	}{s.products, s.sales}, "", "  ")
}

// mergeProducts unions remote and local by id; the local copy wins on collision.
// The result is never nil: an empty merge must still marshal as [], the only
// shape the data files are allowed to hold.
func mergeProducts(remoteSet, localSet []model.Product) []model.Product {
	byID := make(map[uuid.UUID]int, len(remoteSet))
	merged := make([]model.Product, 0, len(remoteSet)+len(localSet))
	merged = append(merged, remoteSet...)
	for i, p := range merged {
		byID[p.ID] = i
	}
	for _, p := range localSet {
		if i, ok := byID[p.ID]; ok {
			merged[i] = p
			continue
		}
		byID[p.ID] = len(merged)
		merged = append(merged, p)
	}
	return merged
}

// mergeSales unions remote and local by id; the local copy wins on collision.
// Like mergeProducts, never returns nil.
func mergeSales(remoteSet, localSet []model.Sale) []model.Sale {
	byID := make(map[uuid.UUID]int, len(remoteSet))
	merged := make([]model.Sale, 0, len(remoteSet)+len(localSet))
	merged = append(merged, remoteSet...)
	for i, sale := range merged {
		byID[sale.ID] = i
	}
	for _, sale := range localSet {
		if i, ok := byID[sale.ID]; ok {
			merged[i] = sale
			continue
		}
		byID[sale.ID] = len(merged)
		merged = append(merged, sale)
	}
	return merged
}

// pruneSales returns a fresh slice so callers can keep the input intact
// (Sync marshals the unpruned merge result for the remote store).
func (s *Store) pruneSales(sales []model.Sale) []model.Sale {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	out := make([]model.Sale, 0, len(sales))
	for _, sale := range sales {
		if !sale.Date.Before(cutoff) {
			out = append(out, sale)
		}
	}
	return out
}

func (s *Store) validateProduct(p model.Product) error {
	if !s.scope.Active() {
		return fmt.Errorf("no active company")
	}
	if p.Name == "" || p.Barcode == "" {
		return fmt.Errorf("product needs a name and a barcode")
	}
	if p.Price <= 0 {
		return fmt.Errorf("product price must be positive")
	}
	if p.Stock < 0 || p.Stock > model.MaxStock {
		return fmt.Errorf("product stock must be between 0 and %d", model.MaxStock)
	}
	return nil
}

// mirror writes the working set to the local cache. Never fatal.
func (s *Store) mirror() {
	if !s.scope.Active() {
		return
	}
	if data, err := json.Marshal(s.products); err == nil {
		if err := s.cache.Write(s.scope.productsPath(), data); err != nil {
			s.log.Warn("mirror products", zap.Error(err))
		}
	}
	if data, err := json.Marshal(s.sales); err == nil {
		if err := s.cache.Write(s.scope.salesPath(), data); err != nil {
			s.log.Warn("mirror sales", zap.Error(err))
		}
	}
}

func decodeProducts(data []byte) ([]model.Product, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ps []model.Product
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("%w: products: %v", errs.ErrDecoding, err)
	}
	return ps, nil
}

func decodeSales(data []byte) ([]model.Sale, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ss []model.Sale
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("%w: sales: %v", errs.ErrDecoding, err)
	}
	return ss, nil
}
