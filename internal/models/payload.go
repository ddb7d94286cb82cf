package models

// Field is one Name/Value pair in a marketplace payload. A nil Value marks an
// absent field; builders strip those before serialization so the wire payload
// never carries explicit nulls.
type Field struct {
	Name  string  `json:"Name"`
	Value *string `json:"Value"`
}

// StrField builds a Field with a set value.
func StrField(name, value string) Field {
	return Field{Name: name, Value: &value}
}

// OptField builds a Field whose value is absent when s is empty.
func OptField(name, s string) Field {
	if s == "" {
		return Field{Name: name}
	}
	return StrField(name, s)
}

// Option names a variant differentiator (e.g. color, size) at the product level.
type Option struct {
	Name string `json:"Name"`
}

// BuyableProduct is the variant-level record in the outbound payload.
type BuyableProduct struct {
	Fields        []Field `json:"Fields"`
	Quantity      int     `json:"Quantity"`
	SellerSKU     string  `json:"SellerSKU"`
	ListingStatus string  `json:"ListingStatus"`
}

// MarketplacePayload is the product-level body posted to the marketplace API.
type MarketplacePayload struct {
	Fields          []Field          `json:"Fields"`
	SellerSKU       string           `json:"SellerSKU"`
	BuyableProducts []BuyableProduct `json:"BuyableProducts"`
	Options         []Option         `json:"Options,omitempty"`
}

const (
	ListingStatusLive    = "Live"
	ListingStatusNotLive = "NotLive"
)
