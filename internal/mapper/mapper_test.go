package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluefly-sync/internal/models"
	"bluefly-sync/internal/settings"
)

func TestMapColorStandard(t *testing.T) {
	tests := []struct {
		color string
		want  string
	}{
		{"Matte Black", "Black"},
		{"black", "Black"},
		{"Off White", "Off White"},
		{"Ivory", "Off White"},
		{"Navy Blue", "Blue"},
		{"Charcoal Heather", "Grey"},
		{"Burgundy", "Red"},
		{"Neon Chartreuse", "No color"},
		{"", "No color"},
	}
	for _, tt := range tests {
		t.Run(tt.color, func(t *testing.T) {
			assert.Equal(t, tt.want, MapColorStandard(tt.color, "No color"))
		})
	}
}

func TestMapColorStandardOffWhiteBeatsWhite(t *testing.T) {
	// "off white" contains "white"; the compound entry must win.
	assert.Equal(t, "Off White", MapColorStandard("off white", "No color"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "silk-scarf", Slugify("Silk Scarf"))
	assert.Equal(t, "womens-tote", Slugify("  Women's Tote  "))
	assert.Equal(t, "a-b-c", Slugify("a_b c"))
	assert.Equal(t, "", Slugify(""))
}

func TestGenderSlug(t *testing.T) {
	assert.Equal(t, "womens", GenderSlug("Women"))
	assert.Equal(t, "womens", GenderSlug("female"))
	assert.Equal(t, "mens", GenderSlug("Men"))
	assert.Equal(t, "unisex", GenderSlug("Gender Neutral"))
	assert.Equal(t, "kids", GenderSlug("Kids"))
	assert.Equal(t, "", GenderSlug(""))
}

func TestShouldSync(t *testing.T) {
	assert.True(t, ShouldSync(&models.EnrichedProduct{Status: "ACTIVE"}))
	assert.True(t, ShouldSync(&models.EnrichedProduct{Status: "active"}))
	assert.False(t, ShouldSync(&models.EnrichedProduct{Status: "DRAFT"}))
	assert.False(t, ShouldSync(&models.EnrichedProduct{Status: "ARCHIVED"}))
	assert.False(t, ShouldSync(&models.EnrichedProduct{Status: ""}))
}

func TestAdjustPrice(t *testing.T) {
	v, ok := AdjustPrice("100.00", 10)
	require.True(t, ok)
	assert.Equal(t, 110.0, v)

	v, ok = AdjustPrice("100.00", 0)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	v, ok = AdjustPrice("33.33", 10)
	require.True(t, ok)
	assert.Equal(t, 36.66, v)

	_, ok = AdjustPrice("", 10)
	assert.False(t, ok)

	_, ok = AdjustPrice("not-a-price", 10)
	assert.False(t, ok)
}

func TestParseTagsForField(t *testing.T) {
	tags := []string{"New Arrival", "Genuine Leather", "Striped"}
	assert.Equal(t, "Genuine Leather", parseTagsForField(tags, materialKeywords))
	assert.Equal(t, "Striped", parseTagsForField(tags, patternKeywords))
	assert.Equal(t, "", parseTagsForField([]string{"New Arrival"}, materialKeywords))
}

func testProduct() *models.EnrichedProduct {
	weight := 1.25
	return &models.EnrichedProduct{
		ID:              "gid://shopify/Product/1111",
		NumericID:       1111,
		Title:           "Silk Scarf",
		Vendor:          "Acme Fashion",
		DescriptionHTML: "<p>A very nice scarf.</p>",
		ProductType:     "Accessories/Scarves",
		Status:          "ACTIVE",
		Tags:            []string{"Womens", "Silk Blend"},
		Metafields: []models.Metafield{
			{Namespace: "custom", Key: "bluefly_category", Value: "123", Type: "single_line_text_field"},
			{Namespace: "custom", Key: "color", Value: "Dusty Rose", Type: "single_line_text_field"},
		},
		Images: []models.Image{
			{URL: "https://cdn.example.com/product-1.jpg"},
			{URL: "https://cdn.example.com/product-2.jpg"},
		},
		Variants: []models.Variant{
			{
				ID:                "gid://shopify/ProductVariant/987654321",
				SKU:               "SCF-001",
				Price:             "100.00",
				CompareAtPrice:    "120.00",
				Barcode:           "0123456789012",
				Title:             "Small",
				InventoryQuantity: 7,
				SelectedOptions:   []models.SelectedOption{{Name: "Size", Value: "Small"}},
				Image:             &models.Image{URL: "https://cdn.example.com/variant-1.jpg"},
				Weight:            &weight,
				WeightUnit:        "POUNDS",
			},
		},
	}
}

func fieldValue(t *testing.T, fields []models.Field, name string) string {
	t.Helper()
	for _, f := range fields {
		if f.Name == name {
			require.NotNil(t, f.Value, "field %q is null", name)
			return *f.Value
		}
	}
	t.Fatalf("field %q not found", name)
	return ""
}

func hasField(fields []models.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func TestDeriveSellerSKU(t *testing.T) {
	product := testProduct()
	variant := &product.Variants[0]

	sku := DeriveSellerSKU(variant, "12345", product, product.Metafields)
	assert.Equal(t, "acme-fashion-womens-scarves-in-dusty-rose-scf-001-c4321", sku)
}

func TestDeriveSellerSKUFallbacks(t *testing.T) {
	variant := &models.Variant{ID: "gid://shopify/ProductVariant/5555", SKU: "ABC-1"}
	assert.Equal(t, "ABC-1", DeriveSellerSKU(variant, "", nil, nil))

	blank := &models.Variant{ID: "gid://shopify/ProductVariant/5555"}
	assert.Equal(t, "SHOPIFY-5555", DeriveSellerSKU(blank, "", nil, nil))
}

func TestDeriveSellerSKUVendorEqualsSellerID(t *testing.T) {
	product := testProduct()
	product.Vendor = "12345"
	variant := &product.Variants[0]

	sku := DeriveSellerSKU(variant, "vpid-12345", product, product.Metafields)
	assert.Equal(t, "womens-scarves-in-dusty-rose-scf-001-c4321", sku)
}

func TestBuildFullPayload(t *testing.T) {
	product := testProduct()
	cfg := settings.Defaults()
	cfg.PriceAdjustmentPct = 10

	payload := BuildFullPayload(product, product.Metafields, nil, cfg, "12345")

	assert.Equal(t, "acme-fashion-womens-scarves-in-dusty-rose-scf-001-c4321", payload.SellerSKU)
	assert.Equal(t, "123", fieldValue(t, payload.Fields, "category"))
	assert.Equal(t, "Acme Fashion", fieldValue(t, payload.Fields, "brand"))
	assert.Equal(t, "Silk Scarf", fieldValue(t, payload.Fields, "name"))

	require.Len(t, payload.BuyableProducts, 1)
	buyable := payload.BuyableProducts[0]
	assert.Equal(t, 7, buyable.Quantity)
	assert.Equal(t, models.ListingStatusLive, buyable.ListingStatus)

	// compareAtPrice becomes the MSRP and the adjusted price the special.
	assert.Equal(t, "120.00", fieldValue(t, buyable.Fields, "price"))
	assert.Equal(t, "110.00", fieldValue(t, buyable.Fields, "special_price"))

	// Variant image leads the slots, then product images.
	assert.Equal(t, "https://cdn.example.com/variant-1.jpg", fieldValue(t, buyable.Fields, "image_1"))
	assert.Equal(t, "https://cdn.example.com/product-1.jpg", fieldValue(t, buyable.Fields, "image_2"))
	assert.Equal(t, "https://cdn.example.com/product-2.jpg", fieldValue(t, buyable.Fields, "image_3"))
	assert.False(t, hasField(buyable.Fields, "image_4"))

	assert.Equal(t, "1.2500", fieldValue(t, buyable.Fields, "weight"))
	assert.Equal(t, "Dusty Rose", fieldValue(t, buyable.Fields, "color"))
	assert.Equal(t, "Pink", fieldValue(t, buyable.Fields, "color_standard"))
	assert.Equal(t, "0123456789012", fieldValue(t, buyable.Fields, "upc"))
}

func TestBuildFullPayloadNullStripping(t *testing.T) {
	product := testProduct()
	// No gender metafield and no gender derivable; the field must be absent,
	// not a null.
	payload := BuildFullPayload(product, product.Metafields, nil, settings.Defaults(), "12345")

	assert.False(t, hasField(payload.Fields, "gender"))
	for _, f := range payload.Fields {
		assert.NotNil(t, f.Value, "product field %q serialized as null", f.Name)
	}
	for _, b := range payload.BuyableProducts {
		for _, f := range b.Fields {
			assert.NotNil(t, f.Value, "buyable field %q serialized as null", f.Name)
		}
	}
}

func TestBuildFullPayloadNoCompareAtPrice(t *testing.T) {
	product := testProduct()
	product.Variants[0].CompareAtPrice = ""
	cfg := settings.Defaults()
	cfg.PriceAdjustmentPct = 10

	payload := BuildFullPayload(product, product.Metafields, nil, cfg, "12345")
	buyable := payload.BuyableProducts[0]

	// Without an MSRP the adjusted selling price is the only price; no
	// phantom discount.
	assert.Equal(t, "110.00", fieldValue(t, buyable.Fields, "price"))
	assert.False(t, hasField(buyable.Fields, "special_price"))
}

func TestBuildFullPayloadSQLFieldOverrides(t *testing.T) {
	product := testProduct()
	sqlFieldMap := map[string]map[string]string{
		"Small": {
			"size":       "S",
			"heel_style": "Flat",
		},
	}

	payload := BuildFullPayload(product, product.Metafields, sqlFieldMap, settings.Defaults(), "12345")
	buyable := payload.BuyableProducts[0]

	// "size" already exists and is overridden; "heel_style" is appended.
	assert.Equal(t, "S", fieldValue(t, buyable.Fields, "size"))
	assert.Equal(t, "Flat", fieldValue(t, buyable.Fields, "heel_style"))
}

func TestBuildOptions(t *testing.T) {
	variants := []models.Variant{
		{SelectedOptions: []models.SelectedOption{{Name: "Size", Value: "S"}, {Name: "Color", Value: "Red"}}},
		{SelectedOptions: []models.SelectedOption{{Name: "Size", Value: "M"}}},
	}
	options := BuildOptions(variants, nil)
	require.Len(t, options, 2)
	assert.Equal(t, "size", options[0].Name)
	assert.Equal(t, "color", options[1].Name)
}

func TestBuildOptionsSynthesizesColorFromMetafield(t *testing.T) {
	variants := []models.Variant{
		{SelectedOptions: []models.SelectedOption{{Name: "Title", Value: "Default Title"}, {Name: "Size", Value: "S"}}},
	}
	metafields := []models.Metafield{{Namespace: "custom", Key: "color", Value: "Cobalt"}}

	options := BuildOptions(variants, metafields)
	require.Len(t, options, 2)
	assert.Equal(t, "color", options[0].Name)
	assert.Equal(t, "size", options[1].Name)
}

func TestBuildQuantityPricePayload(t *testing.T) {
	product := testProduct()
	cfg := settings.Defaults()
	cfg.PriceAdjustmentPct = 10

	payload := BuildQuantityPricePayload(product, product.Metafields, cfg, "12345")

	assert.NotNil(t, payload.Fields)
	assert.Empty(t, payload.Fields)
	assert.Nil(t, payload.Options)

	require.Len(t, payload.BuyableProducts, 1)
	buyable := payload.BuyableProducts[0]
	assert.Equal(t, 7, buyable.Quantity)
	assert.Equal(t, models.ListingStatusLive, buyable.ListingStatus)
	assert.Equal(t, "120.00", fieldValue(t, buyable.Fields, "price"))
	assert.Equal(t, "110.00", fieldValue(t, buyable.Fields, "special_price"))
	assert.Equal(t, "Not Returnable", fieldValue(t, buyable.Fields, "is_returnable"))
	assert.False(t, hasField(buyable.Fields, "image_1"))
	assert.False(t, hasField(buyable.Fields, "color"))
}

func TestBuildQuantityPricePayloadNotLiveWhenInactive(t *testing.T) {
	product := testProduct()
	product.Status = "ARCHIVED"

	payload := BuildQuantityPricePayload(product, product.Metafields, settings.Defaults(), "12345")
	require.Len(t, payload.BuyableProducts, 1)
	assert.Equal(t, models.ListingStatusNotLive, payload.BuyableProducts[0].ListingStatus)
}
