package product

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/xraph/entitle/canonical"
)

// versionDomainKey keys the BLAKE3 hash of version ids. Changing it
// changes every version id.
var versionDomainKey = [32]byte{
	'e', 'n', 't', 'i', 't', 'l', 'e', '.', 'p', 'r', 'o', 'd', 'u', 'c', 't', '.',
	'v', 'e', 'r', 's', 'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Version is an immutable snapshot of a product definition, addressed by the
// hash of its content. ProductID is nil for inline products.
type Version struct {
	TenancyID   string          `json:"tenancy_id"`
	VersionID   string          `json:"version_id"`
	ProductID   *string         `json:"product_id"`
	ProductJSON canonical.Value `json:"product_json"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Product decodes the stored JSON.
func (v *Version) Product() (*Product, error) {
	return FromValue(v.ProductJSON)
}

// ComputeVersionID returns the hex BLAKE3 digest of the canonical form of
// {productId, productJson}. Inline products (nil productID) with identical
// JSON share an id.
func ComputeVersionID(productID *string, productJSON canonical.Value) string {
	pid := canonical.Null()
	if productID != nil {
		pid = canonical.String(*productID)
	}
	doc := canonical.Map(
		canonical.Member{Key: "productId", Value: pid},
		canonical.Member{Key: "productJson", Value: productJSON},
	)

	hasher, err := blake3.NewKeyed(versionDomainKey[:])
	if err != nil {
		panic("product: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write([]byte(canonical.Canonicalize(doc)))
	return hex.EncodeToString(hasher.Sum(nil))
}

// ToValue converts a product definition to its JSON value.
func ToValue(p *Product) (canonical.Value, error) {
	if p == nil {
		return canonical.Value{}, errNilProduct
	}
	data, err := json.Marshal(p)
	if err != nil {
		return canonical.Value{}, fmt.Errorf("product: encode: %w", err)
	}
	return canonical.FromJSON(data)
}

// FromValue decodes a product definition from its JSON value.
func FromValue(v canonical.Value) (*Product, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("product: encode value: %w", err)
	}
	var p Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("product: decode: %w", err)
	}
	return &p, nil
}

// DefaultsSnapshot records which products were include-by-default for a
// tenancy from CreatedAt on. Products maps product id to product JSON.
type DefaultsSnapshot struct {
	ID        string                     `json:"id"`
	TenancyID string                     `json:"tenancy_id"`
	Products  map[string]canonical.Value `json:"products"`
	CreatedAt time.Time                  `json:"created_at"`
}

// Value returns the snapshot's product map as one JSON object, for
// comparing snapshots canonically.
func (s *DefaultsSnapshot) Value() canonical.Value {
	members := make([]canonical.Member, 0, len(s.Products))
	for id, v := range s.Products {
		members = append(members, canonical.Member{Key: id, Value: v})
	}
	return canonical.Map(members...)
}

// MissingVersionError reports a purchase that references a version row that
// does not exist.
type MissingVersionError struct {
	VersionID string
	Reference string
}

func (e *MissingVersionError) Error() string {
	if e.Reference == "" {
		return fmt.Sprintf("product: version %q not found", e.VersionID)
	}
	return fmt.Sprintf("product: version %q referenced by %s not found", e.VersionID, e.Reference)
}
