package pipeline

import "strings"

type DetectResult struct {
	IsPackingList bool
	Score         float64
	Reason        string
}

var detectKeywords = []string{"packing list", "packing-list", "shipment", "customs", "invoice", "bill of lading", "consignment", "qty", "quantity"}

// DetectPackingList scores whether an inbound email looks like a packing-list
// submission, so the mail intake can skip newsletters and replies. Heuristic
// only; a false negative just means the sender has to use the CLI.
func DetectPackingList(subject, body string, attachmentNames []string) DetectResult {
	subject = strings.ToLower(subject)
	body = strings.ToLower(body)

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(body, kw) {
			score += 0.1
		}
	}

	numberRuns := countNumberRuns(body)
	if numberRuns >= 2 {
		score += 0.3
	} else if numberRuns == 1 {
		score += 0.15
	}

	for _, name := range attachmentNames {
		ln := strings.ToLower(name)
		if strings.HasSuffix(ln, ".pdf") || strings.HasSuffix(ln, ".docx") || strings.HasSuffix(ln, ".xlsx") {
			score += 0.3
			break
		}
	}

	if score > 1 {
		score = 1
	}

	isPackingList := score >= 0.45
	reason := "rules_negative"
	if isPackingList {
		reason = "rules_positive"
	}
	return DetectResult{IsPackingList: isPackingList, Score: score, Reason: reason}
}

func countNumberRuns(text string) int {
	count := 0
	for i := 0; i < len(text); i++ {
		if text[i] >= '0' && text[i] <= '9' {
			count++
			for i+1 < len(text) && text[i+1] >= '0' && text[i+1] <= '9' {
				i++
			}
		}
	}
	return count
}
