package pipeline

import (
	"strings"

	"hspack/internal"
	"hspack/internal/hscodes"
	"hspack/internal/util"
)

type bucket struct {
	category     string
	descriptions []string
	totalQty     int
	unit         *string
}

// GroupItems folds classified items into one aggregate per normalized HS
// code: quantities summed (absent or zero quantity counts as 1), descriptions
// deduplicated and merged, the last non-empty unit kept. Non-items and
// excluded codes never contribute. Output order follows map iteration;
// callers needing determinism sort afterwards.
//
// Known simplifications, kept for compatibility: a later item's unit silently
// overrides an earlier one, and the bucket category is whichever item opened
// the bucket.
func GroupItems(vocab *hscodes.Vocabulary, items []internal.ClassifiedItem) []internal.GroupedItem {
	buckets := map[string]*bucket{}
	order := make([]string, 0)

	for _, item := range items {
		category := util.Deref(item.Category)
		hsCode := util.Deref(item.HsCode)
		if vocab.IsNonItemCategory(category) {
			continue
		}
		if vocab.IsExcludedCode(hsCode) {
			continue
		}

		validated := vocab.Validate(hsCode, category)
		if validated.Status == hscodes.StatusExclude {
			continue
		}
		key := vocab.NormalizeUnknown(validated.HsCode)

		if category == "" {
			category = "Unclassified"
		}
		desc := firstNonEmptyString(util.Deref(item.CleanDescription), util.Deref(item.DetectedDescription), item.RawLine)
		qty := 1
		if item.DetectedQuantity != nil && *item.DetectedQuantity != 0 {
			qty = *item.DetectedQuantity
		}

		b, ok := buckets[key]
		if !ok {
			b = &bucket{category: category, unit: item.DetectedUnit}
			buckets[key] = b
			order = append(order, key)
		}
		b.descriptions = append(b.descriptions, desc)
		b.totalQty += qty
		if item.DetectedUnit != nil && *item.DetectedUnit != "" {
			b.unit = item.DetectedUnit
		}
	}

	out := make([]internal.GroupedItem, 0, len(buckets))
	for _, key := range order {
		b := buckets[key]
		out = append(out, internal.GroupedItem{
			HsCode:           key,
			Category:         b.category,
			FinalDescription: mergeDescriptions(b.descriptions),
			TotalQuantity:    b.totalQty,
			Unit:             b.unit,
		})
	}
	return out
}

// mergeDescriptions keeps a single distinct description verbatim; otherwise
// the first three unique descriptions are joined, with a marker when more
// were dropped.
func mergeDescriptions(descriptions []string) string {
	seen := map[string]struct{}{}
	unique := make([]string, 0, len(descriptions))
	for _, d := range descriptions {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		unique = append(unique, d)
	}

	if len(unique) == 1 {
		return unique[0]
	}
	limit := len(unique)
	if limit > 3 {
		limit = 3
	}
	merged := strings.Join(unique[:limit], "; ")
	if len(unique) > 3 {
		merged += " (and others)"
	}
	return merged
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
