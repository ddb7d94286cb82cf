// Package settings reads the mutable mapping configuration. The file is owned
// by the dashboard, not by this service, so it is re-read on every mapping
// invocation and never cached.
package settings

import (
	"encoding/json"
	"os"
)

type Eligibility struct {
	RequireCategory bool `json:"require_category"`
	RequireQuantity bool `json:"require_quantity"`
	RequireImages   bool `json:"require_images"`
}

type FieldDefaults struct {
	IsReturnable     string `json:"is_returnable"`
	ProductCondition string `json:"product_condition"`
	ListingStatus    string `json:"listing_status"`
	ColorStandard    string `json:"color_standard"`
}

type Settings struct {
	PriceAdjustmentPct float64       `json:"price_adjustment_pct"`
	Eligibility        Eligibility   `json:"eligibility"`
	FieldDefaults      FieldDefaults `json:"field_defaults"`
}

// fileSettings mirrors Settings with pointer fields so a key missing from the
// on-disk document falls back to its default instead of the zero value.
type fileSettings struct {
	PriceAdjustmentPct *float64 `json:"price_adjustment_pct"`
	Eligibility        *struct {
		RequireCategory *bool `json:"require_category"`
		RequireQuantity *bool `json:"require_quantity"`
		RequireImages   *bool `json:"require_images"`
	} `json:"eligibility"`
	FieldDefaults *struct {
		IsReturnable     string `json:"is_returnable"`
		ProductCondition string `json:"product_condition"`
		ListingStatus    string `json:"listing_status"`
		ColorStandard    string `json:"color_standard"`
	} `json:"field_defaults"`
}

// Defaults returns the baseline configuration used when the settings file is
// missing, corrupt, or lacks a key.
func Defaults() Settings {
	return Settings{
		PriceAdjustmentPct: 0,
		Eligibility: Eligibility{
			RequireCategory: true,
			RequireQuantity: true,
			RequireImages:   true,
		},
		FieldDefaults: FieldDefaults{
			IsReturnable:     "Not Returnable",
			ProductCondition: "New",
			ListingStatus:    "Live",
			ColorStandard:    "No color",
		},
	}
}

// Load reads settings from path merged over Defaults. It tolerates a missing
// or corrupt file and concurrent external edits between reads.
func Load(path string) Settings {
	merged := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return merged
	}
	var onDisk fileSettings
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return merged
	}
	if onDisk.PriceAdjustmentPct != nil {
		merged.PriceAdjustmentPct = *onDisk.PriceAdjustmentPct
	}
	if el := onDisk.Eligibility; el != nil {
		if el.RequireCategory != nil {
			merged.Eligibility.RequireCategory = *el.RequireCategory
		}
		if el.RequireQuantity != nil {
			merged.Eligibility.RequireQuantity = *el.RequireQuantity
		}
		if el.RequireImages != nil {
			merged.Eligibility.RequireImages = *el.RequireImages
		}
	}
	if fd := onDisk.FieldDefaults; fd != nil {
		if fd.IsReturnable != "" {
			merged.FieldDefaults.IsReturnable = fd.IsReturnable
		}
		if fd.ProductCondition != "" {
			merged.FieldDefaults.ProductCondition = fd.ProductCondition
		}
		if fd.ListingStatus != "" {
			merged.FieldDefaults.ListingStatus = fd.ListingStatus
		}
		if fd.ColorStandard != "" {
			merged.FieldDefaults.ColorStandard = fd.ColorStandard
		}
	}
	return merged
}

// Save writes settings to path. Only the settings endpoint writes; the
// pipeline itself just reads.
func Save(path string, s Settings) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
