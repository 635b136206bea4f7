// Package approval gates tool execution behind a per-tool risk level.
// AUTO tools run immediately; everything else suspends on an
// out-of-band approve/deny decision with a timeout that denies.
package approval

import "time"

// RiskLevel is the static danger classification of a tool.
type RiskLevel string

const (
	// RiskAuto executes immediately without user interaction.
	RiskAuto RiskLevel = "AUTO"

	// RiskConfirm requires approval; denies after 5 minutes.
	RiskConfirm RiskLevel = "CONFIRM"

	// RiskCritical requires approval; denies after 30 minutes.
	RiskCritical RiskLevel = "CRITICAL"
)

// riskTable maps registered tool names to their tier. Read-only
// queries are AUTO; anything that writes files, spends paid API
// calls, or prepares mailbox/cluster writes needs confirmation;
// operations that act on external systems are CRITICAL.
var riskTable = map[string]RiskLevel{
	// research
	"search_arxiv":            RiskAuto,
	"search_semantic_scholar": RiskAuto,
	"download_paper_pdf":      RiskConfirm,
	"analyze_paper_gemini":    RiskConfirm,
	"analyze_paper_claude":    RiskConfirm,

	// calendar
	"get_calendar_briefing": RiskAuto,
	"add_calendar_event":    RiskConfirm,

	// mail
	"analyze_emails":       RiskConfirm,
	"analyze_single_email": RiskConfirm,
	"fetch_mail_digest":    RiskAuto,
	"fetch_urgent_mails":   RiskAuto,
	"fetch_promo_deals":    RiskAuto,
	"propose_mail_actions": RiskConfirm,
	"execute_mail_actions": RiskCritical,

	// hpc
	"monitor_hpc_job":      RiskAuto,
	"check_hpc_connection": RiskAuto,
	"physics_agent_handle": RiskCritical,

	// delegates
	"phd_agent_handle": RiskAuto,
}

// RiskOf returns the tool's tier. Unknown tools default to CONFIRM.
func RiskOf(tool string) RiskLevel {
	if level, ok := riskTable[tool]; ok {
		return level
	}
	return RiskConfirm
}

// DefaultTimeout returns the wait before a pending approval at this
// level is denied.
func DefaultTimeout(level RiskLevel) time.Duration {
	switch level {
	case RiskCritical:
		return 30 * time.Minute
	default:
		return 5 * time.Minute
	}
}
