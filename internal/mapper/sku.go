package mapper

import (
	"regexp"
	"strings"

	"bluefly-sync/internal/models"
)

var nonDigitPrefix = regexp.MustCompile(`^[^\d]+`)

// numericID extracts the trailing numeric part of a Shopify GID
// (gid://shopify/ProductVariant/12345 -> "12345").
func numericID(gid string) string {
	if gid == "" {
		return ""
	}
	parts := strings.Split(gid, "/")
	return parts[len(parts)-1]
}

// DeriveSellerSKU returns the variant's SellerSKU.
//
// With full context (sellerID + product) it builds the structured form
//
//	{vendor}-{gender}-{type}-in-{color}-{variant-sku}-{color-code}
//
// where the color code is "c" plus the last 4 digits of the variant's numeric
// platform id. Empty segments are dropped; the vendor segment is dropped when
// it equals the numeric seller id, which guards against stores that stuff the
// seller id into the vendor field. Without context it falls back to the bare
// variant SKU, or SHOPIFY-{id} when that is blank.
func DeriveSellerSKU(variant *models.Variant, sellerID string, product *models.EnrichedProduct, metafields []models.Metafield) string {
	variantSKU := strings.TrimSpace(variant.SKU)
	if variantSKU == "" {
		if numeric := numericID(variant.ID); numeric != "" {
			variantSKU = "SHOPIFY-" + numeric
		}
	}

	if sellerID == "" || product == nil {
		return variantSKU
	}

	// Seller ids sometimes arrive prefixed (e.g. "vpid-123"); compare digits only.
	if stripped := nonDigitPrefix.ReplaceAllString(sellerID, ""); stripped != "" {
		sellerID = stripped
	}

	color := variant.Option("color")
	if color == "" {
		color = models.GetMetafield(metafields, "custom", "color")
	}
	colorSlug := Slugify(color)

	numeric := numericID(variant.ID)
	var colorCode string
	if len(numeric) >= 4 {
		colorCode = "c" + numeric[len(numeric)-4:]
	} else {
		colorCode = "c" + numeric
	}

	genderRaw := models.GetMetafield(metafields, "custom", "gender")
	if genderRaw == "" {
		for _, tag := range product.Tags {
			lower := strings.ToLower(tag)
			for _, w := range []string{"mens", "womens", "women", "men", "unisex"} {
				if strings.Contains(lower, w) {
					genderRaw = tag
					break
				}
			}
			if genderRaw != "" {
				break
			}
		}
	}
	gender := GenderSlug(genderRaw)

	vendor := Slugify(product.Vendor)
	if vendor == sellerID {
		vendor = ""
	}
	rawType := product.ProductType
	if idx := strings.LastIndex(rawType, "/"); idx >= 0 {
		rawType = strings.TrimSpace(rawType[idx+1:])
	}
	productType := Slugify(rawType)

	handleParts := make([]string, 0, 4)
	for _, p := range []string{vendor, gender, productType} {
		if p != "" {
			handleParts = append(handleParts, p)
		}
	}
	if colorSlug != "" {
		handleParts = append(handleParts, "in-"+colorSlug)
	}
	handle := strings.Join(handleParts, "-")

	parts := make([]string, 0, 3)
	for _, p := range []string{handle, Slugify(variantSKU), colorCode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}
