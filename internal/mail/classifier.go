package mail

import (
	"regexp"
	"strings"
)

// Rule-based triage. Categories are checked in priority order:
// urgent beats promo beats action beats info.
var (
	urgentPatterns = compileAll(
		`\burgent\b`,
		`\basap\b`,
		`deadline`,
		`due\s+today`,
		`마감`,
		`긴급`,
		`즉시`,
		`final notice`,
		`payment failed`,
	)

	actionPatterns = compileAll(
		`\breply\b`,
		`\bplease\s+review\b`,
		`\brsvp\b`,
		`필요`,
		`확인해`,
		`요청`,
		`submit`,
	)

	promoPatterns = compileAll(
		`\bsale\b`,
		`\bdeal\b`,
		`\bdiscount\b`,
		`\bcoupon\b`,
		`프로모션`,
		`할인`,
		`특가`,
		`무료배송`,
		`limited time`,
	)

	promoSenderMarkers = []string{
		"noreply", "no-reply", "newsletter", "marketing",
		"deals", "offers", "coupon", "store",
	}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Classifier triages mail into urgent/action/promo/info with
// lightweight keyword rules. No model call involved.
type Classifier struct{}

// Classify returns the category, a fixed per-rule confidence, and a
// short reason.
func (Classifier) Classify(m Message) Classification {
	sender := strings.ToLower(m.Sender)
	text := strings.ToLower(m.Subject + "\n" + m.Sender + "\n" + m.BodyPreview)

	if matchesAny(text, urgentPatterns) {
		return Classification{Category: "urgent", Confidence: 0.92, Reason: "matched urgent keyword pattern"}
	}
	if isPromoSender(sender) || matchesAny(text, promoPatterns) {
		return Classification{Category: "promo", Confidence: 0.88, Reason: "promotion sender/keyword detected"}
	}
	if matchesAny(text, actionPatterns) {
		return Classification{Category: "action", Confidence: 0.76, Reason: "action-needed keywords detected"}
	}
	return Classification{Category: "info", Confidence: 0.65, Reason: "no urgent/action/promo pattern"}
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func isPromoSender(sender string) bool {
	for _, marker := range promoSenderMarkers {
		if strings.Contains(sender, marker) {
			return true
		}
	}
	return false
}
