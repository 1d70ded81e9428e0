// Package hscodes holds the closed vocabulary of HS codes the classifier is
// allowed to emit, plus the validation step that decides whether a
// (code, category) pair is valid, needs review, or is excluded from export.
package hscodes

import "strings"

type Status string

const (
	StatusValid   Status = "valid"
	StatusReview  Status = "review"
	StatusExclude Status = "exclude"
)

// Outcome is the result of validating a classification. HsCode is the code
// to use downstream: the original (trimmed) code when valid, otherwise the
// relevant sentinel.
type Outcome struct {
	Status Status
	HsCode string
}

// Vocabulary is an immutable set of allowed codes and sentinels. Build one
// with Default; tests may construct alternates directly via New.
type Vocabulary struct {
	allowedList       []string
	allowed           map[string]struct{}
	unknownCode       string
	excludedCode      string
	needInfoCode      string
	excludeCodes      []string
	nonItemCategories []string
}

// AllowedCodes returns the allow-list in declaration order.
func (v *Vocabulary) AllowedCodes() []string {
	out := make([]string, len(v.allowedList))
	copy(out, v.allowedList)
	return out
}

// UnknownCode is the sentinel for a real item the classifier could not place.
func (v *Vocabulary) UnknownCode() string { return v.unknownCode }

// ExcludedCode is the sentinel for lines that are not physical import goods.
func (v *Vocabulary) ExcludedCode() string { return v.excludedCode }

// NeedInfoCode is the sentinel for items too vague to classify.
func (v *Vocabulary) NeedInfoCode() string { return v.needInfoCode }

func New(allowed []string, unknown, excluded, needInfo string, excludeCodes, nonItemCategories []string) *Vocabulary {
	set := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		set[c] = struct{}{}
	}
	return &Vocabulary{
		allowedList:       allowed,
		allowed:           set,
		unknownCode:       unknown,
		excludedCode:      excluded,
		needInfoCode:      needInfo,
		excludeCodes:      excludeCodes,
		nonItemCategories: nonItemCategories,
	}
}

// Default is the assessor allow-list: common import chapters (lighting,
// furniture, decor, HVAC, textile, hardware, ceramics) at 4-digit heading
// level plus a few 6-digit subheadings, and the 9999 review sentinel.
func Default() *Vocabulary {
	allowed := []string{
		"9405", // lighting: lamps, pendants, track lights
		"9405.10",
		"9405.20",
		"9401", // chairs & seating
		"9401.61",
		"9401.71",
		"9401.80",
		"9403", // other furniture: tables, cabinets
		"9403.20",
		"9403.60",
		"6702", // artificial flowers/plants
		"8415", // AC, refrigeration
		"8414", // fans
		"4814", // wallpaper
		"3926", // plastic articles
		"6913", // decorative ceramics
		"7326", // other articles of iron/steel
		"8302", // base metal mountings, fittings
		"8471", // computers
		"8516", // electric heating
		"3924", // plastic tableware, kitchenware
		"7308", // iron/steel structures
		"9404", // mattress supports, bedding
		"6304", // quilts, furnishing textiles
		"6302", // bed linen
		"9703", // sculptures and statuary
		"8413", // pumps for liquids
		"9403.90",
		"9405.90",
		"9999", // real item, unresolved: review bucket
	}
	return New(
		allowed,
		"9999",
		"EXCLUDE",
		"NEED_INFO",
		[]string{"EXCLUDE", "0000.00", "0000", "9999.99"},
		[]string{
			"Non-item",
			"Excluded",
			"Document",
			"Unit only",
			"Not an import item",
			"Header",
			"Noise",
		},
	)
}

// IsAllowedCode reports exact membership after trimming. No prefix or fuzzy
// matching: "9405.1" is not a member even though "9405.10" is.
func (v *Vocabulary) IsAllowedCode(code string) bool {
	_, ok := v.allowed[strings.TrimSpace(code)]
	return ok
}

// IsExcludedCode reports whether a code means "drop from grouped output".
// An empty code counts as excluded.
func (v *Vocabulary) IsExcludedCode(code string) bool {
	if code == "" {
		return true
	}
	upper := strings.ToUpper(code)
	for _, ex := range v.excludeCodes {
		if upper == ex || strings.HasPrefix(upper, ex) {
			return true
		}
	}
	if code == "9999.99" || strings.HasPrefix(code, "0000") {
		return true
	}
	return false
}

// IsNonItemCategory reports whether a category marks the line as not being a
// physical import item (headers, addresses, document noise).
func (v *Vocabulary) IsNonItemCategory(category string) bool {
	if category == "" {
		return false
	}
	c := strings.ToLower(strings.TrimSpace(category))
	for _, n := range v.nonItemCategories {
		if strings.Contains(c, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// IsUnknownCode matches the unknown sentinel and any of its dotted variants
// (9999, 9999.00, 9999.xx).
func (v *Vocabulary) IsUnknownCode(code string) bool {
	return code == v.unknownCode || strings.HasPrefix(code, v.unknownCode+".")
}

// Validate runs the strict precedence chain:
//  1. non-item category -> exclude, regardless of the code
//  2. unknown sentinel (any variant) -> review
//  3. exact allow-list member -> valid
//  4. anything else (hallucinated code) -> review, demoted to unknown
//
// The ordering is load-bearing: a non-item category wins over a valid code,
// and a code outside the closed vocabulary is never trusted.
func (v *Vocabulary) Validate(code, category string) Outcome {
	if v.IsNonItemCategory(category) {
		return Outcome{Status: StatusExclude, HsCode: v.excludedCode}
	}
	if v.IsUnknownCode(code) {
		return Outcome{Status: StatusReview, HsCode: v.unknownCode}
	}
	if v.IsAllowedCode(code) {
		return Outcome{Status: StatusValid, HsCode: strings.TrimSpace(code)}
	}
	return Outcome{Status: StatusReview, HsCode: v.unknownCode}
}

// NormalizeUnknown collapses every dotted variant of the unknown sentinel to
// its canonical form so grouped buckets never split across 9999 spellings.
func (v *Vocabulary) NormalizeUnknown(code string) string {
	if v.IsUnknownCode(code) || code == "9999.99" {
		return v.unknownCode
	}
	return code
}
