package router

import "strings"

// toolKeywords routes tools into a turn by message keyword. A plain
// greeting selects zero tools and the turn runs in pure conversation
// mode on the fast model.
var toolKeywords = map[string][]string{
	"search_arxiv":            {"arxiv", "paper", "논문", "검색", "연구", "search"},
	"search_semantic_scholar": {"paper", "논문", "semantic", "scholar", "검색"},
	"download_paper_pdf":      {"download", "pdf", "다운로드", "다운"},
	"analyze_paper_gemini":    {"analyze", "분석", "paper", "논문"},
	"analyze_paper_claude":    {"analyze", "분석", "paper", "논문"},
	"get_calendar_briefing":   {"calendar", "schedule", "일정", "캘린더", "스케줄", "오늘 일정", "내일 일정"},
	"add_calendar_event":      {"calendar", "event", "일정 추가", "약속 추가", "일정 등록"},
	"analyze_emails":          {"email", "mail", "이메일", "메일"},
	"analyze_single_email":    {"email", "mail", "이메일", "메일"},
	"fetch_mail_digest":       {"메일", "이메일", "요약", "digest", "inbox"},
	"fetch_urgent_mails":      {"긴급", "urgent", "메일", "이메일"},
	"fetch_promo_deals":       {"딜", "프로모션", "할인", "coupon", "deal"},
	"propose_mail_actions":    {"메일 정리", "정리", "archive", "라벨", "actions"},
	"execute_mail_actions":    {"정리 실행", "archive", "라벨 적용", "mark read"},
	"monitor_hpc_job":         {"hpc", "job", "vasp", "계산", "클러스터", "잡"},
	"check_hpc_connection":    {"hpc", "connection", "ssh", "폴라리스", "서버"},
	"physics_agent_handle":    {"physics", "물리", "vasp", "dft", "시뮬레이션"},
	"phd_agent_handle":        {"phd", "박사", "연구 진행"},
}

// matchesKeywords reports whether any of the tool's keywords appears
// in the lowercased message.
func matchesKeywords(toolName, msgLower string) bool {
	for _, kw := range toolKeywords[toolName] {
		if strings.Contains(msgLower, kw) {
			return true
		}
	}
	return false
}
