package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"bluefly-sync/internal/models"
)

// ShouldSync reports whether a product is sync-eligible: its status must be
// ACTIVE (compared case-insensitively).
func ShouldSync(product *models.EnrichedProduct) bool {
	return strings.EqualFold(product.Status, "ACTIVE")
}

var materialKeywords = []string{"leather", "silk", "cotton", "wool", "polyester", "metal", "plastic", "acetate"}

var patternKeywords = []string{"stripe", "plaid", "check", "floral", "solid", "print", "geometric"}

// parseTagsForField scans tags in original order for the first tag containing
// any keyword (case-insensitive substring). Returns "" when nothing matches.
func parseTagsForField(tags []string, keywords []string) string {
	for _, tag := range tags {
		lower := strings.ToLower(strings.TrimSpace(tag))
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return strings.TrimSpace(tag)
			}
		}
	}
	return ""
}

// MapProductFields builds the product-level Fields array. Fields with nil
// values are kept here and stripped by the payload builder.
func MapProductFields(product *models.EnrichedProduct, metafields []models.Metafield) []models.Field {
	fields := []models.Field{
		// category and brand/name/description always carry a value, even if empty
		models.StrField("category", models.GetMetafield(metafields, "custom", "bluefly_category")),
		models.StrField("brand", product.Vendor),
		models.StrField("name", product.Title),
		models.StrField("description", product.DescriptionHTML),
		models.OptField("type_frames", product.ProductType),
		models.OptField("material_clothing", parseTagsForField(product.Tags, materialKeywords)),
		models.OptField("pattern", parseTagsForField(product.Tags, patternKeywords)),
		models.OptField("gender", models.GetMetafield(metafields, "custom", "gender")),
		models.OptField("sub_category", models.GetMetafield(metafields, "custom", "sub_category")),
		models.OptField("care_instructions", models.GetMetafield(metafields, "custom", "care_instructions")),
		models.OptField("country_of_manufacture", models.GetMetafield(metafields, "custom", "country_of_origin")),
		models.OptField("size_notes", models.GetMetafield(metafields, "custom", "size_notes")),
	}
	return fields
}

// AdjustPrice applies a percentage adjustment to a money string and rounds to
// two decimals. ok is false for an empty or unparseable input.
func AdjustPrice(price string, adjustmentPct float64) (adjusted float64, ok bool) {
	if price == "" {
		return 0, false
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
	if err != nil {
		return 0, false
	}
	if adjustmentPct != 0 {
		p = p * (1 + adjustmentPct/100)
	}
	return round2(p), true
}

func round2(v float64) float64 {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	r, _ := strconv.ParseFloat(s, 64)
	return r
}

// FormatPrice renders a price with exactly two decimal places.
func FormatPrice(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// FormatWeight renders a weight with four decimal places.
func FormatWeight(w float64) string {
	return fmt.Sprintf("%.4f", w)
}

// ListingStatusFor derives the marketplace listing status from a product
// status.
func ListingStatusFor(productStatus string) string {
	if strings.EqualFold(productStatus, "ACTIVE") {
		return models.ListingStatusLive
	}
	return models.ListingStatusNotLive
}
