package mapper

import (
	"regexp"
	"strings"
)

// colorKeyword maps a free-form color substring to one of the 17 standard
// marketplace color buckets. Order matters: first match wins, so compound
// names like "off white" sit above their component words.
type colorKeyword struct {
	keyword  string
	standard string
}

var colorStandardKeywords = []colorKeyword{
	{"off white", "Off White"}, {"ivory", "Off White"}, {"cream", "Off White"},
	{"black", "Black"},
	{"white", "White"},
	{"beige", "Beige"}, {"tan", "Beige"}, {"camel", "Beige"}, {"khaki", "Beige"}, {"taupe", "Beige"}, {"sand", "Beige"},
	{"grey", "Grey"}, {"gray", "Grey"}, {"charcoal", "Grey"}, {"slate", "Grey"},
	{"blue", "Blue"}, {"navy", "Blue"}, {"cobalt", "Blue"}, {"teal", "Blue"}, {"denim", "Blue"}, {"indigo", "Blue"},
	{"red", "Red"}, {"burgundy", "Red"}, {"wine", "Red"}, {"maroon", "Red"}, {"crimson", "Red"},
	{"green", "Green"}, {"olive", "Green"}, {"army", "Green"}, {"sage", "Green"}, {"forest", "Green"},
	{"brown", "Brown"}, {"chocolate", "Brown"}, {"cognac", "Brown"},
	{"gold", "Gold"},
	{"silver", "Silver"}, {"metallic", "Silver"},
	{"pink", "Pink"}, {"blush", "Pink"}, {"rose", "Pink"}, {"mauve", "Pink"}, {"fuchsia", "Pink"},
	{"purple", "Purple"}, {"violet", "Purple"}, {"lavender", "Purple"}, {"plum", "Purple"},
	{"orange", "Orange"}, {"coral", "Orange"}, {"rust", "Orange"}, {"peach", "Orange"},
	{"yellow", "Yellow"}, {"mustard", "Yellow"},
	{"multi", "Multi"}, {"multicolor", "Multi"}, {"pattern", "Multi"},
}

// MapColorStandard maps a free-form color string to a standard color bucket.
// Unmatched or empty input falls back to the configured default.
func MapColorStandard(color, defaultColor string) string {
	if color == "" {
		return defaultColor
	}
	lower := strings.ToLower(color)
	for _, ck := range colorStandardKeywords {
		if strings.Contains(lower, ck.keyword) {
			return ck.standard
		}
	}
	return defaultColor
}

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse = regexp.MustCompile(`[\s_]+`)
)

// Slugify converts text to a lowercase hyphenated slug.
func Slugify(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = slugStrip.ReplaceAllString(text, "")
	text = slugCollapse.ReplaceAllString(text, "-")
	return strings.Trim(text, "-")
}

// GenderSlug normalizes a free-text gender to mens/womens/unisex; anything
// else is slugified as-is. The womens check runs first so "women" never
// matches the "men" substring test.
func GenderSlug(gender string) string {
	if gender == "" {
		return ""
	}
	g := strings.ToLower(strings.TrimSpace(gender))
	for _, w := range []string{"woman", "women", "female"} {
		if strings.Contains(g, w) {
			return "womens"
		}
	}
	for _, w := range []string{"man", "men", "male"} {
		if strings.Contains(g, w) {
			return "mens"
		}
	}
	for _, w := range []string{"unisex", "neutral"} {
		if strings.Contains(g, w) {
			return "unisex"
		}
	}
	return Slugify(gender)
}
