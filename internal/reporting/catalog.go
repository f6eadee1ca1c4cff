package reporting

import (
	"context"
	"errors"
	"fmt"
)

// ErrProductNotFound is returned by catalogs for unknown product ids.
var ErrProductNotFound = errors.New("product not found")

// ProductCatalog resolves product ids to display names. Lookups are
// best-effort; reporting substitutes a placeholder on any failure.
type ProductCatalog interface {
	GetName(ctx context.Context, productID int64) (string, error)
}

// StaticCatalog serves names from a fixed map. Used when no external
// catalog is wired.
type StaticCatalog struct {
	names map[int64]string
}

// NewStaticCatalog creates a catalog over the given names.
func NewStaticCatalog(names map[int64]string) *StaticCatalog {
	if names == nil {
		names = map[int64]string{}
	}
	return &StaticCatalog{names: names}
}

func (c *StaticCatalog) GetName(_ context.Context, productID int64) (string, error) {
	name, ok := c.names[productID]
	if !ok {
		return "", ErrProductNotFound
	}
	return name, nil
}

// placeholderName is substituted when a catalog lookup fails.
func placeholderName(productID int64) string {
	return fmt.Sprintf("Product #%d", productID)
}
