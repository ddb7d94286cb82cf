package models

import "strings"

// EnrichedProduct is the in-memory product shape produced by the Shopify
// enrichment client after flattening GraphQL connections. It is never
// persisted.
type EnrichedProduct struct {
	ID              string // gid://shopify/Product/{n}
	NumericID       int64
	Title           string
	Vendor          string
	DescriptionHTML string
	ProductType     string
	Status          string // ACTIVE, DRAFT, ARCHIVED
	Tags            []string
	Metafields      []Metafield
	Images          []Image
	Variants        []Variant
}

type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

type Image struct {
	URL     string `json:"url"`
	AltText string `json:"altText"`
}

type SelectedOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Variant struct {
	ID                string // gid://shopify/ProductVariant/{n}
	SKU               string
	Price             string // Shopify money strings, e.g. "100.00"
	CompareAtPrice    string // empty when unset
	Barcode           string
	Title             string
	InventoryQuantity int
	SelectedOptions   []SelectedOption
	Image             *Image
	Weight            *float64
	WeightUnit        string
}

// Option returns the value of a named selected option, case-insensitively.
func (v *Variant) Option(name string) string {
	for _, opt := range v.SelectedOptions {
		if strings.EqualFold(opt.Name, name) {
			return opt.Value
		}
	}
	return ""
}

// GetMetafield returns the value for (namespace, key), or "" when absent.
func GetMetafield(metafields []Metafield, namespace, key string) string {
	for _, mf := range metafields {
		if mf.Namespace == namespace && mf.Key == key {
			return mf.Value
		}
	}
	return ""
}
