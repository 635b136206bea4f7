package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"polaris/internal/approval"
	"polaris/internal/config"
	"polaris/internal/hpc"
	"polaris/internal/llm"
	"polaris/internal/logging"
	"polaris/internal/mail"
	"polaris/internal/memory"
	"polaris/internal/router"
	"polaris/internal/skills"
	"polaris/internal/tools"
	"polaris/internal/trace"
	"polaris/internal/vault"
)

// historyLimit caps the in-memory transcript per session.
const historyLimit = 20

const welcomeText = `**Polaris v2**

Your research north star.

**Features:**
- Paper search/analysis (arXiv, Semantic Scholar)
- Mail triage and urgent alerts
- HPC job monitoring
- Calendar briefing
- LLM-powered natural language routing

Type /help for commands, or just ask me anything.`

const helpText = `**Polaris v2 Commands**

/start - Welcome
/help - This message
/status - System status
/search <query> - Search papers
/schedule - Today/tomorrow calendar
/hpc [cluster] - HPC connection and budget
/trace - Show recent action traces
/tools - List registered tools
/skills - List registered skills
/wrong - Mark last response as wrong
/feedback - Show recent feedback
/index - Index Obsidian vault
/vault [search <query>] - Vault status / search
/mail_digest - Unified mail digest
/mail_accounts - Configured mail accounts
/mail_urgent - Urgent mails only
/mail_promo - Promotion/deal mails
/mail_actions [target] - Propose safe mail actions
/reload - Reload runtime components

Or just type naturally and Polaris will route your request.`

// session is the per-user volatile state.
type session struct {
	history            []llm.Message
	awaitingCorrection bool
	wrongOriginal      string
}

// Dispatcher routes inbound chat text: slash commands go to their
// handlers, everything else goes through the agent router.
type Dispatcher struct {
	router   *router.Router
	skills   *skills.Registry
	tools    *tools.Registry
	traces   *trace.Store
	store    *memory.Store
	feedback *memory.FeedbackManager
	mail     *mail.Service
	accounts []config.MailAccount
	vault    *vault.Reader
	monitors map[string]*hpc.Monitor
	gate     *approval.Gate

	// reloadRuntime refreshes skills and other runtime files, the same
	// callback the hot reloader fires.
	reloadRuntime func()

	mu       sync.Mutex
	sessions map[string]*session
}

// Deps collects the dispatcher's collaborators; any may be nil and the
// matching commands degrade to a short notice.
type Deps struct {
	Router        *router.Router
	Skills        *skills.Registry
	Tools         *tools.Registry
	Traces        *trace.Store
	Store         *memory.Store
	Feedback      *memory.FeedbackManager
	Mail          *mail.Service
	MailAccounts  []config.MailAccount
	Vault         *vault.Reader
	Monitors      map[string]*hpc.Monitor
	Gate          *approval.Gate
	ReloadRuntime func()
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(d Deps) *Dispatcher {
	return &Dispatcher{
		router:        d.Router,
		skills:        d.Skills,
		tools:         d.Tools,
		traces:        d.Traces,
		store:         d.Store,
		feedback:      d.Feedback,
		mail:          d.Mail,
		accounts:      d.MailAccounts,
		vault:         d.Vault,
		monitors:      d.Monitors,
		gate:          d.Gate,
		reloadRuntime: d.ReloadRuntime,
		sessions:      make(map[string]*session),
	}
}

// HandleMessage processes one inbound text from a session and returns
// the reply.
func (d *Dispatcher) HandleMessage(ctx context.Context, sessionID, text string) string {
	log := logging.Get(logging.CategoryBot)
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if strings.HasPrefix(text, "/") {
		return d.handleCommand(ctx, sessionID, text)
	}

	s := d.session(sessionID)

	// A /wrong follow-up: the next message is the correction.
	d.mu.Lock()
	awaiting, original := s.awaitingCorrection, s.wrongOriginal
	s.awaitingCorrection, s.wrongOriginal = false, ""
	d.mu.Unlock()
	if awaiting {
		if d.feedback == nil {
			return "피드백 시스템이 초기화되지 않았어."
		}
		if _, err := d.feedback.SaveCorrection(ctx, sessionID, original, text, "manual"); err != nil {
			log.Warnf("failed to save manual correction: %v", err)
			return fmt.Sprintf("교정 저장 실패: %v", err)
		}
		return "교정 내용을 저장했어! 다음부터 반영할게."
	}

	d.mu.Lock()
	history := append([]llm.Message{}, s.history...)
	d.mu.Unlock()

	result := d.router.Route(ctx, text, history, sessionID)

	d.mu.Lock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: text},
		llm.Message{Role: llm.RoleAssistant, Content: result.Response})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	d.mu.Unlock()

	if result.Response == "" {
		return "응답을 만들지 못했어. 다시 시도해줘."
	}
	return result.Response
}

// HandleCallback resolves an approval button press.
func (d *Dispatcher) HandleCallback(data string) string {
	if d.gate == nil {
		return "expired"
	}
	return d.gate.HandleCallback(data)
}

func (d *Dispatcher) session(id string) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if !ok {
		s = &session{}
		d.sessions[id] = s
	}
	return s
}

func (d *Dispatcher) handleCommand(ctx context.Context, sessionID, text string) string {
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	args := fields[1:]

	switch cmd {
	case "start":
		return welcomeText
	case "help":
		return helpText
	case "status":
		return d.statusCommand(ctx)
	case "trace":
		return d.traceCommand(ctx)
	case "tools":
		return d.toolsCommand()
	case "skills":
		return d.skillsCommand()
	case "wrong":
		return d.wrongCommand(sessionID)
	case "feedback":
		return d.feedbackCommand(ctx)
	case "index":
		return d.indexCommand(ctx)
	case "vault":
		return d.vaultCommand(ctx, args)
	case "search":
		return d.searchCommand(ctx, sessionID, args)
	case "schedule":
		return d.scheduleCommand(ctx, sessionID)
	case "hpc":
		return d.hpcCommand(ctx, args)
	case "mail", "mail_digest":
		return d.mailDigestCommand(ctx)
	case "mail_accounts":
		return d.mailAccountsCommand()
	case "mail_urgent":
		return d.mailListCommand(ctx, "urgent")
	case "mail_promo":
		return d.mailListCommand(ctx, "promo")
	case "mail_actions":
		return d.mailActionsCommand(ctx, args)
	case "reload":
		return d.reloadCommand()
	default:
		return fmt.Sprintf("알 수 없는 명령어야: /%s\n/help 로 사용 가능한 명령어를 확인해봐.", cmd)
	}
}

func (d *Dispatcher) statusCommand(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("**Polaris v2 Status**\n")
	if d.tools != nil {
		fmt.Fprintf(&b, "\n**Tools:** %d registered", d.tools.Count())
	}
	if d.skills != nil {
		fmt.Fprintf(&b, "\n**Skills:** %d loaded", d.skills.Count())
	}
	if d.store != nil {
		if stats, err := d.store.GetStats(ctx); err == nil {
			fmt.Fprintf(&b, "\n**Memory:** %d conversations, %d knowledge, %d feedback",
				stats.Conversations, stats.Knowledge, stats.Feedback)
		}
	}
	if d.traces != nil {
		if n, err := d.traces.Count(ctx); err == nil {
			fmt.Fprintf(&b, "\n**Traces:** %d rows", n)
		}
	}
	if d.gate != nil {
		fmt.Fprintf(&b, "\n**Approval Gate:** active (%d pending)", d.gate.PendingCount())
	}
	return b.String()
}

func (d *Dispatcher) traceCommand(ctx context.Context) string {
	if d.traces == nil {
		return "Trace 저장소가 초기화되지 않았어."
	}
	rows, err := d.traces.Recent(ctx, 10)
	if err != nil {
		return fmt.Sprintf("Trace 조회 실패: %v", err)
	}
	if len(rows) == 0 {
		return "No traces recorded yet."
	}
	lines := []string{"**Recent Traces (last 10)**", ""}
	for _, row := range rows {
		ts := row.Timestamp
		if len(ts) > 19 {
			ts = ts[:19]
		}
		lines = append(lines, fmt.Sprintf("`%s` | %s | %s", ts, row.Tool, row.ApprovalLevel))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) toolsCommand() string {
	if d.tools == nil || d.tools.Count() == 0 {
		return "No tools registered."
	}
	all := d.tools.All()
	lines := []string{fmt.Sprintf("**Registered Tools (%d)**", len(all)), ""}
	for _, t := range all {
		lines = append(lines, fmt.Sprintf("- `%s`: %s", t.Name, clip(t.Description, 80)))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) skillsCommand() string {
	if d.skills == nil || d.skills.Count() == 0 {
		return "등록된 스킬이 없어."
	}
	all := d.skills.All()
	lines := []string{fmt.Sprintf("**등록된 스킬 (%d개)**", len(all)), ""}
	for _, s := range all {
		var tags []string
		if s.Source == "external" {
			tags = append(tags, "외부")
		}
		if s.RequiresTool {
			tags = append(tags, "강제도구")
		}
		if len(s.ToolChain) > 0 {
			tags = append(tags, fmt.Sprintf("체인:%d", len(s.ToolChain)))
		}
		tagText := ""
		if len(tags) > 0 {
			tagText = " [" + strings.Join(tags, " | ") + "]"
		}
		lines = append(lines, fmt.Sprintf("- `%s`%s: %s [%s]",
			s.Name, tagText, s.Description, strings.Join(s.Triggers, ", ")))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) wrongCommand(sessionID string) string {
	s := d.session(sessionID)
	d.mu.Lock()
	defer d.mu.Unlock()

	last := ""
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == llm.RoleAssistant {
			last = s.history[i].Content
			break
		}
	}
	if last == "" {
		return "교정할 이전 응답이 없어."
	}
	s.awaitingCorrection = true
	s.wrongOriginal = last
	return "어떻게 고쳐야 하는지 알려줘. (다음 메시지에 교정 내용을 적어줘)"
}

func (d *Dispatcher) feedbackCommand(ctx context.Context) string {
	if d.feedback == nil {
		return "피드백 시스템이 초기화되지 않았어."
	}
	feedbacks, err := d.feedback.RecentFeedback(ctx, 10)
	if err != nil {
		return fmt.Sprintf("피드백 조회 실패: %v", err)
	}
	if len(feedbacks) == 0 {
		return "저장된 피드백이 없어."
	}
	lines := []string{fmt.Sprintf("**최근 피드백 (%d개)**", len(feedbacks)), ""}
	for _, fb := range feedbacks {
		ts := fb.Timestamp
		if len(ts) > 10 {
			ts = ts[:10]
		}
		catLabel := ""
		if fb.Category != "" {
			catLabel = " [" + fb.Category + "]"
		}
		lines = append(lines, fmt.Sprintf("- `%s`%s %s", ts, catLabel, clip(fb.Correction, 60)))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) indexCommand(ctx context.Context) string {
	if d.vault == nil {
		return "Vault reader가 초기화되지 않았어."
	}
	stats, err := d.vault.IndexVault(ctx, false)
	if err != nil {
		return fmt.Sprintf("인덱싱 실패: %v", err)
	}
	return fmt.Sprintf("**Vault 인덱싱 완료**\n\n전체: %d개\n새로 추가: %d개\n갱신: %d개\n건너뜀: %d개\n오류: %d개",
		stats.Total, stats.New, stats.Updated, stats.Skipped, stats.Errors)
}

func (d *Dispatcher) vaultCommand(ctx context.Context, args []string) string {
	if d.vault == nil {
		return "Vault reader가 초기화되지 않았어."
	}
	if len(args) > 1 && args[0] == "search" {
		query := strings.Join(args[1:], " ")
		hits, err := d.vault.Search(ctx, query, 5)
		if err != nil || len(hits) == 0 {
			return fmt.Sprintf("'%s'에 대한 vault 검색 결과가 없어.", query)
		}
		lines := []string{fmt.Sprintf("**Vault 검색: '%s'**", query), ""}
		for _, hit := range hits {
			lines = append(lines, fmt.Sprintf("- `%s` [score: %.3f]", hit.Title, hit.Score))
			lines = append(lines, "  "+clip(hit.Content, 100)+"...")
		}
		return strings.Join(lines, "\n")
	}
	return fmt.Sprintf("**Vault 인덱싱 상태**\n\n인덱싱된 노트: %d개", d.vault.IndexedCount())
}

// searchCommand and scheduleCommand are explicit shortcuts that still
// go through the router, so enforcement, gating, and tracing apply.
func (d *Dispatcher) searchCommand(ctx context.Context, sessionID string, args []string) string {
	if len(args) == 0 {
		return "Usage: /search <query>"
	}
	query := strings.Join(args, " ")
	result := d.router.Route(ctx, fmt.Sprintf("arxiv에서 '%s' 논문 검색해줘", query), nil, sessionID)
	return result.Response
}

func (d *Dispatcher) scheduleCommand(ctx context.Context, sessionID string) string {
	result := d.router.Route(ctx, "오늘이랑 내일 일정 브리핑해줘", nil, sessionID)
	return result.Response
}

func (d *Dispatcher) hpcCommand(ctx context.Context, args []string) string {
	if len(d.monitors) == 0 {
		return "HPC 클러스터가 설정되지 않았어."
	}
	want := ""
	if len(args) > 0 {
		want = args[0]
	}
	var lines []string
	for name, monitor := range d.monitors {
		if want != "" && name != want {
			continue
		}
		state := "응답 없음 (MFA 만료 가능성)"
		if monitor.ZombieGuard(ctx) {
			state = "연결 정상"
		}
		lines = append(lines, fmt.Sprintf("- `%s`: %s", name, state))
	}
	if len(lines) == 0 {
		return fmt.Sprintf("'%s' 클러스터를 찾지 못했어.", want)
	}
	return "**HPC Status**\n\n" + strings.Join(lines, "\n")
}

func (d *Dispatcher) mailAccountsCommand() string {
	if len(d.accounts) == 0 {
		return "설정된 메일 계정이 없어."
	}
	lines := []string{"**Mail Accounts**", ""}
	for _, a := range d.accounts {
		line := "- " + a.Name
		if len(a.Keywords) > 0 {
			line += " (keywords: " + strings.Join(a.Keywords, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) mailDigestCommand(ctx context.Context) string {
	if d.mail == nil {
		return "MailOps가 초기화되지 않았어."
	}
	sync, err := d.mail.SyncUnread(ctx, 20)
	if err != nil {
		return fmt.Sprintf("메일 동기화 실패: %v", err)
	}
	rows, err := d.mail.Digest(ctx, 20)
	if err != nil {
		return fmt.Sprintf("메일 요약 실패: %v", err)
	}
	if len(rows) == 0 {
		return "새로 분류된 메일이 없어."
	}
	lines := []string{
		"**Mail Digest**",
		fmt.Sprintf("sync: fetched=%d, new=%d, urgent_new=%d", sync.Fetched, sync.Inserted, sync.UrgentNew),
		"",
	}
	for i, row := range rows {
		if i >= 10 {
			break
		}
		cat := row.Category
		if cat == "" {
			cat = "info"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s)", cat, row.Subject, row.AccountID))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) mailListCommand(ctx context.Context, kind string) string {
	if d.mail == nil {
		return "MailOps가 초기화되지 않았어."
	}
	if _, err := d.mail.SyncUnread(ctx, 20); err != nil {
		return fmt.Sprintf("메일 동기화 실패: %v", err)
	}

	var rows []mail.DigestRow
	var err error
	var header, empty string
	switch kind {
	case "urgent":
		rows, err = d.mail.Urgent(ctx, 20)
		header, empty = "**Urgent Mails**", "긴급 메일이 없어."
	default:
		rows, err = d.mail.Promo(ctx, 20)
		header, empty = "**Promo/Deal Mails**", "프로모션 메일이 없어."
	}
	if err != nil {
		return fmt.Sprintf("메일 조회 실패: %v", err)
	}
	if len(rows) == 0 {
		return empty
	}
	lines := []string{header, ""}
	for i, row := range rows {
		if i >= 15 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s / %s", row.Subject, row.Sender))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) mailActionsCommand(ctx context.Context, args []string) string {
	if d.mail == nil {
		return "MailOps가 초기화되지 않았어."
	}
	target := "promo"
	if len(args) > 0 {
		target = args[0]
	}
	proposals, err := d.mail.ProposeActions(ctx, target, 20)
	if err != nil {
		return fmt.Sprintf("액션 제안 실패: %v", err)
	}
	if len(proposals) == 0 {
		return "제안할 액션이 없어."
	}
	lines := []string{fmt.Sprintf("**Mail Actions Proposal (%s)**", target), ""}
	for i, item := range proposals {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s | %s | %s", item.ProposedAction, item.Subject, item.Category))
	}
	lines = append(lines, "", "안전 정책: archive/label/mark_read만 지원, delete는 미지원.")
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) reloadCommand() string {
	if d.reloadRuntime == nil {
		return "리로드 대상이 없어."
	}
	d.reloadRuntime()
	return "런타임 리로드 완료: skills/외부 스킬을 다시 불러왔어."
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
