// Package rules is the assessor rulebook layer that runs on top of every
// classification, whether it came from the AI adapter or from the rules-only
// fallback. It corrects systematic classifier mistakes (sculpture filed as
// artificial plants, wallpaper filed as bedding) and flags descriptions too
// vague for any code assignment.
package rules

import (
	"regexp"
	"strings"

	"hspack/internal"
	"hspack/internal/hscodes"
)

// NeedInfoCategory is the category shown when a description is too vague to
// classify.
const NeedInfoCategory = "Need more description"

// UnclassifiedCategory seeds the rules-only path when the AI is unavailable.
const UnclassifiedCategory = "Unclassified"

type forceRule struct {
	pattern  *regexp.Regexp
	hsCode   string
	category string
}

type Engine struct {
	vocab      *hscodes.Vocabulary
	forceRules []forceRule
	vague      []*regexp.Regexp
	fallbacks  []forceRule
	patch      *regexp.Regexp
}

// NewEngine builds the rulebook against a vocabulary. The force rules are an
// ordered table: the first match wins, and the ordering matters (the
// decorative-fountain rule must be tried before the generic fountain rule).
func NewEngine(vocab *hscodes.Vocabulary) *Engine {
	fountainDecor := forceRule{
		pattern:  regexp.MustCompile(`(?i)decorative\s*fountain|fountain\s*\(?\s*decor`),
		hsCode:   "3926",
		category: "Plastic articles",
	}
	fountain := forceRule{
		pattern:  regexp.MustCompile(`(?i)fountain\b`),
		hsCode:   "8413",
		category: "Pumps for liquids",
	}

	return &Engine{
		vocab: vocab,
		forceRules: []forceRule{
			{
				pattern:  regexp.MustCompile(`(?i)sculpture|statuary|statue\b`),
				hsCode:   "9703",
				category: "Sculptures and statuary",
			},
			{
				pattern:  regexp.MustCompile(`(?i)wallpaper|wall\s*covering|wall\s*paper`),
				hsCode:   "4814",
				category: "Wallpaper and wall coverings",
			},
			{
				pattern:  regexp.MustCompile(`(?i)ceramic\s*vase|vase\s*\(?\s*ceramic|ceramic\s*vessel|pottery\s*vase`),
				hsCode:   "6913",
				category: "Decorative ceramics",
			},
			fountainDecor,
			fountain,
		},
		vague: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^decorative\s+item\s*\.?\s*$`),
			regexp.MustCompile(`(?i)^decor\s*item\s*$`),
			regexp.MustCompile(`(?i)^decorative\s+item\s+with\s+pattern\s*$`),
			regexp.MustCompile(`(?i)^misc(ellaneous)?\s*decor\s*$`),
			regexp.MustCompile(`(?i)^item\s+with\s+pattern\s*$`),
			regexp.MustCompile(`(?i)^general\s+decor\s*$`),
			regexp.MustCompile(`(?i)^assorted\s+decor\s*$`),
			regexp.MustCompile(`(?i)^decorative\s+piece\s*$`),
		},
		fallbacks: []forceRule{fountainDecor, fountain},
		patch:     regexp.MustCompile(`(?i)vase|vessel|pottery|ceramic`),
	}
}

// Apply runs the rulebook over a classification. Patterns are checked against
// the raw input description and the candidate's cleaned description joined
// together, so a correction fires no matter which of the two carries the
// keyword.
func (e *Engine) Apply(description string, result internal.ClassificationResult) internal.ClassificationResult {
	raw := strings.TrimSpace(description)
	desc := strings.TrimSpace(result.CleanDescription)
	if desc == "" {
		desc = raw
	}
	combined := joinNonEmpty(raw, desc)

	// 1) Force rules: authoritative overrides for known misfilings.
	for _, rule := range e.forceRules {
		if rule.pattern.MatchString(combined) {
			result.HsCode = rule.hsCode
			result.Category = rule.category
			result.CleanDescription = firstNonEmpty(result.CleanDescription, description)
			return result
		}
	}

	// 2) Vague description: do not guess, route to the review queue. The item
	// is still a real good, it just needs more detail from the shipper. The
	// templates are whole-string matches, so raw and cleaned text are tested
	// separately rather than joined.
	if e.isVague(raw) || e.isVague(desc) {
		result.IsImportItem = true
		result.HsCode = e.vocab.NeedInfoCode()
		result.Category = NeedInfoCategory
		result.CleanDescription = firstNonEmpty(result.CleanDescription, description)
		return result
	}

	// 3) Unknown sentinel: try the smaller fallback table before accepting a
	// lazy 9999 from upstream.
	if e.vocab.IsUnknownCode(result.HsCode) {
		for _, rule := range e.fallbacks {
			if rule.pattern.MatchString(combined) {
				result.HsCode = rule.hsCode
				result.Category = rule.category
				result.CleanDescription = firstNonEmpty(result.CleanDescription, description)
				return result
			}
		}
	}

	// 4) Narrow high-confidence patch: ceramic vessels misfiled under 6702
	// (artificial plants) belong in 6913, no matter which path produced the
	// 6702.
	if result.HsCode == "6702" && e.patch.MatchString(combined) {
		result.HsCode = "6913"
		result.Category = "Decorative ceramics"
		result.CleanDescription = firstNonEmpty(result.CleanDescription, description)
	}

	return result
}

func (e *Engine) isVague(description string) bool {
	normalized := strings.TrimSpace(description)
	// Very short text is too terse to judge as vague; leave it alone.
	if len(normalized) < 10 {
		return false
	}
	for _, p := range e.vague {
		if p.MatchString(normalized) {
			return true
		}
	}
	return false
}

// ClassifyByRulesOnly classifies with the rulebook alone, for when the AI
// call fails. It seeds an unclassified result and runs it through Apply, so
// the rules layer can always produce a usable, review-flagged classification
// with zero network dependency.
func (e *Engine) ClassifyByRulesOnly(description string) internal.ClassificationResult {
	trimmed := strings.TrimSpace(description)
	seed := internal.ClassificationResult{
		IsImportItem:     true,
		HsCode:           e.vocab.UnknownCode(),
		Category:         UnclassifiedCategory,
		CleanDescription: trimmed,
	}
	out := e.Apply(trimmed, seed)
	if out.HsCode == "" {
		out.HsCode = e.vocab.UnknownCode()
	}
	if out.Category == "" {
		out.Category = UnclassifiedCategory
	}
	if out.CleanDescription == "" {
		out.CleanDescription = trimmed
	}
	return out
}

func joinNonEmpty(values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
