package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"hspack/internal"
	"hspack/internal/util"
)

// Trailing tokens of a packing-list line: "Description Country N PCS". The
// unit token is stripped first, then the quantity, both anchored at the end
// of the line.
var (
	unitPattern   = regexp.MustCompile(`(?i)\b(PCS|PC|Pieces?|SETS?|SET|UNITS?|BOX(?:ES)?|CARTONS?|ROLLS?|SQM|M2|KG|KGS|LBS|METERS?|M|NO\.?S?\.?)\s*$`)
	numberPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*$`)
)

// ParseLines splits extracted document text into candidate line items. Lines
// of length <= 2 are dropped as noise; every surviving line yields exactly
// one ParsedLine with nullable quantity/unit. Pure per line: no cross-line
// state, same input always gives the same output.
func ParseLines(extractedText string) []internal.ParsedLine {
	raw := strings.Split(strings.ReplaceAll(extractedText, "\r\n", "\n"), "\n")

	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if len(l) > 2 {
			lines = append(lines, l)
		}
	}

	out := make([]internal.ParsedLine, 0, len(lines))
	for i, line := range lines {
		description, quantity, unit := parseOneLine(line)
		out = append(out, internal.ParsedLine{
			RawLine:     line,
			Description: description,
			Quantity:    quantity,
			Unit:        unit,
			LineIndex:   i,
		})
	}
	return out
}

func parseOneLine(line string) (string, *float64, *string) {
	rest := line
	var quantity *float64
	var unit *string

	if m := unitPattern.FindStringSubmatchIndex(rest); m != nil {
		token := strings.ToUpper(rest[m[2]:m[3]])
		token = strings.Join(strings.Fields(token), "")
		unit = util.StringPtr(token)
		rest = strings.TrimSpace(rest[:m[0]])
	}

	if m := numberPattern.FindStringSubmatchIndex(rest); m != nil {
		if parsed, err := strconv.ParseFloat(rest[m[2]:m[3]], 64); err == nil {
			quantity = util.FloatPtr(parsed)
		}
		rest = strings.TrimSpace(rest[:m[0]])
	}

	description := util.NormalizeSpaces(rest)
	if description == "" {
		description = line
	}
	return description, quantity, unit
}
