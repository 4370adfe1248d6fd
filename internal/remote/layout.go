package remote

import "strings"

// Storage layout under the object store root. One tenant's write never
// conflicts with another tenant's: every path is per-tenant except the
// shared registry and key files.
const (
	CompaniesPath = "companies/companies.json"
	KeyPath       = "config/encryption_key.json"

	// Legacy single-tenant namespace, used by the reserved admin identity.
	AdminProductsPath = "data/products.json"
	AdminSalesPath    = "data/sales.json"
)

// ProductsPath returns the per-tenant products file path.
func ProductsPath(companyID string) string {
	return "companies/" + companyID + "/products.json"
}

// SalesPath returns the per-tenant sales file path.
func SalesPath(companyID string) string {
	return "companies/" + companyID + "/sales.json"
}

// ValidPath reports whether path points inside the known storage layout.
// Used by the file proxy to refuse traversal and unrelated paths.
func ValidPath(path string) bool {
	if path == "" || strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		return false
	}
	return strings.HasPrefix(path, "companies/") ||
		strings.HasPrefix(path, "config/") ||
		strings.HasPrefix(path, "data/")
}
