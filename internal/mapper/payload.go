package mapper

import (
	"sort"
	"strconv"
	"strings"

	"bluefly-sync/internal/models"
	"bluefly-sync/internal/settings"
)

const imageSlots = 5

// appendPriceFields writes the price/special_price pair.
//
// The marketplace "price" is the MSRP (compare-at, unadjusted) and
// "special_price" the actual selling price with the configured adjustment.
// Without a compare-at reference, the adjusted selling price becomes "price"
// and special_price is omitted so no phantom discount is ever shown.
func appendPriceFields(fields []models.Field, variant *models.Variant, adjustmentPct float64, emitNulls bool) []models.Field {
	selling, haveSelling := AdjustPrice(variant.Price, adjustmentPct)
	compareAt, haveCompareAt := AdjustPrice(variant.CompareAtPrice, 0)

	switch {
	case haveCompareAt:
		fields = append(fields, models.StrField("price", FormatPrice(compareAt)))
		if haveSelling {
			fields = append(fields, models.StrField("special_price", FormatPrice(selling)))
		} else if emitNulls {
			fields = append(fields, models.Field{Name: "special_price"})
		}
	case haveSelling:
		fields = append(fields, models.StrField("price", FormatPrice(selling)))
		if emitNulls {
			fields = append(fields, models.Field{Name: "special_price"})
		}
	case emitNulls:
		fields = append(fields,
			models.Field{Name: "price"},
			models.Field{Name: "special_price"})
	}
	return fields
}

// MapVariantToBuyable transforms one variant into a BuyableProduct entry.
// SQL-sourced fields override same-named computed fields rather than
// duplicating them.
func MapVariantToBuyable(
	variant *models.Variant,
	product *models.EnrichedProduct,
	metafields []models.Metafield,
	sqlFields map[string]string,
	cfg settings.Settings,
	sellerID string,
) models.BuyableProduct {
	fields := make([]models.Field, 0, 16)

	colorDisplay := variant.Option("color")
	if colorDisplay == "" {
		colorDisplay = models.GetMetafield(metafields, "custom", "color")
	}
	fields = append(fields, models.OptField("color", colorDisplay))
	fields = append(fields, models.StrField("color_standard",
		MapColorStandard(colorDisplay, cfg.FieldDefaults.ColorStandard)))
	fields = append(fields, models.OptField("size", variant.Option("size")))

	fields = append(fields, models.StrField("is_returnable", cfg.FieldDefaults.IsReturnable))
	fields = append(fields, models.StrField("product_condition", cfg.FieldDefaults.ProductCondition))
	fields = append(fields, models.OptField("upc", variant.Barcode))

	fields = appendPriceFields(fields, variant, cfg.PriceAdjustmentPct, true)

	// Variant image first, then product images, de-duplicated, five slots.
	// Unused slots stay null and are stripped with everything else below.
	sources := make([]string, 0, imageSlots)
	seen := map[string]bool{}
	if variant.Image != nil && variant.Image.URL != "" {
		sources = append(sources, variant.Image.URL)
		seen[variant.Image.URL] = true
	}
	for _, img := range product.Images {
		if img.URL != "" && !seen[img.URL] {
			sources = append(sources, img.URL)
			seen[img.URL] = true
		}
	}
	for i := 0; i < imageSlots; i++ {
		name := "image_" + strconv.Itoa(i+1)
		if i < len(sources) {
			fields = append(fields, models.StrField(name, sources[i]))
		} else {
			fields = append(fields, models.Field{Name: name})
		}
	}

	if variant.Weight != nil {
		fields = append(fields, models.StrField("weight", FormatWeight(*variant.Weight)))
	} else {
		fields = append(fields, models.Field{Name: "weight"})
	}

	sqlNames := make([]string, 0, len(sqlFields))
	for name := range sqlFields {
		sqlNames = append(sqlNames, name)
	}
	sort.Strings(sqlNames)
	for _, name := range sqlNames {
		value := sqlFields[name]
		replaced := false
		for i := range fields {
			if fields[i].Name == name {
				fields[i] = models.StrField(name, value)
				replaced = true
				break
			}
		}
		if !replaced {
			fields = append(fields, models.StrField(name, value))
		}
	}

	return models.BuyableProduct{
		Fields:        fields,
		Quantity:      variant.InventoryQuantity,
		SellerSKU:     DeriveSellerSKU(variant, sellerID, product, metafields),
		ListingStatus: ListingStatusFor(product.Status),
	}
}

// stripNullFields removes every field whose value is nil. Absent data must
// never reach the wire as an explicit null.
func stripNullFields(fields []models.Field) []models.Field {
	out := fields[:0]
	for _, f := range fields {
		if f.Value != nil {
			out = append(out, f)
		}
	}
	return out
}

// BuildOptions derives the product-level variant differentiators, preserving
// first-seen order and skipping Shopify's "Title" placeholder. When no option
// is named color but a color metafield exists, a leading color option is
// synthesized.
func BuildOptions(variants []models.Variant, metafields []models.Metafield) []models.Option {
	names := make([]string, 0, 3)
	seen := map[string]bool{}

	for i := range variants {
		for _, opt := range variants[i].SelectedOptions {
			lower := strings.ToLower(opt.Name)
			if opt.Name == "" || lower == "title" || seen[lower] {
				continue
			}
			names = append(names, lower)
			seen[lower] = true
		}
	}

	if !seen["color"] && models.GetMetafield(metafields, "custom", "color") != "" {
		names = append([]string{"color"}, names...)
	}

	options := make([]models.Option, 0, len(names))
	for _, n := range names {
		options = append(options, models.Option{Name: n})
	}
	return options
}

// BuildFullPayload builds the complete upsert body for one product.
// sqlFieldMap is keyed by variant title.
func BuildFullPayload(
	product *models.EnrichedProduct,
	metafields []models.Metafield,
	sqlFieldMap map[string]map[string]string,
	cfg settings.Settings,
	sellerID string,
) models.MarketplacePayload {
	productFields := stripNullFields(MapProductFields(product, metafields))

	buyables := make([]models.BuyableProduct, 0, len(product.Variants))
	for i := range product.Variants {
		variant := &product.Variants[i]
		buyable := MapVariantToBuyable(variant, product, metafields, sqlFieldMap[variant.Title], cfg, sellerID)
		buyable.Fields = stripNullFields(buyable.Fields)
		buyables = append(buyables, buyable)
	}

	var sellerSKU string
	if len(product.Variants) > 0 {
		sellerSKU = DeriveSellerSKU(&product.Variants[0], sellerID, product, metafields)
	}

	return models.MarketplacePayload{
		Fields:          productFields,
		SellerSKU:       sellerSKU,
		BuyableProducts: buyables,
		Options:         BuildOptions(product.Variants, metafields),
	}
}

// BuildQuantityPricePayload builds the lightweight body for the quantityprice
// endpoint: is_returnable, price, special_price, quantity and listing status
// only. Product-level Fields is always empty so no catalog data is re-sent.
func BuildQuantityPricePayload(
	product *models.EnrichedProduct,
	metafields []models.Metafield,
	cfg settings.Settings,
	sellerID string,
) models.MarketplacePayload {
	listingStatus := ListingStatusFor(product.Status)

	buyables := make([]models.BuyableProduct, 0, len(product.Variants))
	for i := range product.Variants {
		variant := &product.Variants[i]
		fields := []models.Field{models.StrField("is_returnable", cfg.FieldDefaults.IsReturnable)}
		fields = appendPriceFields(fields, variant, cfg.PriceAdjustmentPct, false)
		buyables = append(buyables, models.BuyableProduct{
			Fields:        stripNullFields(fields),
			Quantity:      variant.InventoryQuantity,
			SellerSKU:     DeriveSellerSKU(variant, sellerID, product, metafields),
			ListingStatus: listingStatus,
		})
	}

	var sellerSKU string
	if len(product.Variants) > 0 {
		sellerSKU = DeriveSellerSKU(&product.Variants[0], sellerID, product, metafields)
	}

	return models.MarketplacePayload{
		Fields:          []models.Field{},
		SellerSKU:       sellerSKU,
		BuyableProducts: buyables,
	}
}
