// Package model defines domain entities shared by the registry and the data store.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// MaxStock is the upper bound the edit surface allows for a product's stock.
const MaxStock = 9999

// Company is a tenant account. Passwords are stored only as AEAD ciphertext.
type Company struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Username          string    `json:"username"` // case-insensitive unique
	EncryptedPassword string    `json:"encryptedPassword"`
	CreatedAt         time.Time `json:"createdAt"`
	TrialExpiresAt    time.Time `json:"trialExpiresAt"`
}

// NewCompany creates a company with a fresh id and a trial window of trialDays.
func NewCompany(name, username, encryptedPassword string, trialDays int) Company {
	now := time.Now()
	return Company{
		ID:                uuid.Must(uuid.NewV4()).String(),
		Name:              name,
		Username:          username,
		EncryptedPassword: encryptedPassword,
		CreatedAt:         now,
		TrialExpiresAt:    now.AddDate(0, 0, trialDays),
	}
}

// TrialExpired reports whether the trial window has passed at the given instant.
func (c Company) TrialExpired(now time.Time) bool {
	return now.After(c.TrialExpiresAt)
}

// Product is a catalog entry owned by exactly one company.
type Product struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Barcode     string    `json:"barcode"` // unique within a company's catalog
	Stock       int       `json:"stock"`
}

// NewProduct creates a product with a fresh id.
func NewProduct(name, description string, price float64, barcode string, stock int) Product {
	return Product{
		ID:          uuid.Must(uuid.NewV4()),
		Name:        name,
		Description: description,
		Price:       price,
		Barcode:     barcode,
		Stock:       stock,
	}
}

// SaleItem is one line of a sale. TotalPrice is fixed at construction.
type SaleItem struct {
	ID             uuid.UUID `json:"id"`
	ProductName    string    `json:"productName"`
	ProductBarcode string    `json:"productBarcode"`
	Quantity       int       `json:"quantity"`
	UnitPrice      float64   `json:"unitPrice"`
	TotalPrice     float64   `json:"totalPrice"`
}

// NewSaleItem creates a sale line and computes its total.
func NewSaleItem(productName, productBarcode string, quantity int, unitPrice float64) SaleItem {
	return SaleItem{
		ID:             uuid.Must(uuid.NewV4()),
		ProductName:    productName,
		ProductBarcode: productBarcode,
		Quantity:       quantity,
		UnitPrice:      unitPrice,
		TotalPrice:     unitPrice * float64(quantity),
	}
}

// Sale is an append-only sales record. TotalAmount is fixed at construction.
type Sale struct {
	ID          uuid.UUID  `json:"id"`
	Date        time.Time  `json:"date"`
	Items       []SaleItem `json:"items"`
	TotalAmount float64    `json:"totalAmount"`
}

// NewSale creates a sale dated now, summing the item totals.
func NewSale(items []SaleItem) Sale {
	var total float64
	for _, it := range items {
		total += it.TotalPrice
	}
	return Sale{
		ID:          uuid.Must(uuid.NewV4()),
		Date:        time.Now(),
		Items:       items,
		TotalAmount: total,
	}
}
