package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"polaris/internal/approval"
	"polaris/internal/config"
	"polaris/internal/embedding"
	"polaris/internal/llm"
	"polaris/internal/mail"
	"polaris/internal/memory"
	"polaris/internal/router"
	"polaris/internal/skills"
	"polaris/internal/tools"
	"polaris/internal/trace"
)

// scriptedLLM replays canned responses in order.
type scriptedLLM struct {
	mu     sync.Mutex
	script []string
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Chat(context.Context, llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return &llm.Response{Text: "…"}, nil
	}
	text := s.script[0]
	s.script = s.script[1:]
	return &llm.Response{Text: text, StopReason: "stop"}, nil
}

type fixture struct {
	dispatcher *Dispatcher
	store      *memory.Store
	llm        *scriptedLLM
	reloads    *int
}

func newFixture(t *testing.T, script ...string) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := memory.Open(filepath.Join(dir, "memory.db"), embedding.NewEmbedderFromEngine(nil))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	traces, err := trace.Open(filepath.Join(dir, "trace.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { traces.Close() })

	registry := tools.NewRegistry()
	registry.MustRegister(&tools.Tool{
		Name:        "search_arxiv",
		Description: "arXiv 논문 검색",
		Category:    tools.CategoryResearch,
		Execute: func(context.Context, map[string]any) (string, error) {
			return `{"count":1}`, nil
		},
		Schema: tools.Schema{
			Required:   []string{"query"},
			Properties: map[string]tools.Property{"query": {Type: "string"}},
		},
	})

	mailStore, err := mail.OpenStore(filepath.Join(dir, "mail.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mailStore.Close() })
	mailSvc := mail.NewService(mailStore, digestFetcher{})

	feedback := memory.NewFeedbackManager(store)
	gate := approval.NewGate(config.ApprovalConfig{
		ConfirmTimeout:  100 * time.Millisecond,
		CriticalTimeout: 100 * time.Millisecond,
	})

	client := &scriptedLLM{script: script}
	rt := router.New(config.LLMConfig{FastModel: "fast", FullModel: "full", MaxIterations: 10},
		client, registry, router.Options{
			Skills:   skills.NewRegistry(filepath.Join(dir, "skills"), nil),
			Gate:     gate,
			Traces:   traces,
			Store:    store,
			Feedback: feedback,
		})

	accounts := []config.MailAccount{
		{Name: "uic", Keywords: []string{"uic.edu"}},
		{Name: "personal"},
	}

	reloads := 0
	d := NewDispatcher(Deps{
		Router:        rt,
		Skills:        skills.NewRegistry(filepath.Join(dir, "skills"), nil),
		Tools:         registry,
		Traces:        traces,
		Store:         store,
		Feedback:      feedback,
		Mail:          mailSvc,
		MailAccounts:  accounts,
		Gate:          gate,
		ReloadRuntime: func() { reloads++ },
	})
	return &fixture{dispatcher: d, store: store, llm: client, reloads: &reloads}
}

type digestFetcher struct{}

func (digestFetcher) FetchUnread(int) ([]mail.Message, error) {
	return []mail.Message{mail.Normalize(mail.Message{
		Sender:      "hr@uic.edu",
		Subject:     "URGENT: deadline today",
		BodyPreview: "please respond asap",
	}, "uic")}, nil
}

func TestStartAndHelp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.dispatcher.HandleMessage(ctx, "u1", "/start"); !strings.Contains(got, "Polaris v2") {
		t.Errorf("start = %q", got)
	}
	help := f.dispatcher.HandleMessage(ctx, "u1", "/help")
	for _, want := range []string{"/search", "/mail_digest", "/wrong", "/reload"} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q", want)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	got := f.dispatcher.HandleMessage(context.Background(), "u1", "/frobnicate now")
	if !strings.Contains(got, "/frobnicate") || !strings.Contains(got, "/help") {
		t.Errorf("reply = %q", got)
	}
}

func TestNaturalMessageRoutesAndKeepsHistory(t *testing.T) {
	f := newFixture(t, "응 잘 지내", "두 번째 답변이야")
	ctx := context.Background()

	if got := f.dispatcher.HandleMessage(ctx, "u1", "안녕? 잘 지내?"); got != "응 잘 지내" {
		t.Errorf("reply = %q", got)
	}
	f.dispatcher.HandleMessage(ctx, "u1", "고마워")

	s := f.dispatcher.session("u1")
	if len(s.history) != 4 {
		t.Errorf("history length = %d, want 4", len(s.history))
	}
}

func TestStatusAndTools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status := f.dispatcher.HandleMessage(ctx, "u1", "/status")
	if !strings.Contains(status, "Tools:") || !strings.Contains(status, "Approval Gate") {
		t.Errorf("status = %q", status)
	}

	toolsReply := f.dispatcher.HandleMessage(ctx, "u1", "/tools")
	if !strings.Contains(toolsReply, "`search_arxiv`") {
		t.Errorf("tools = %q", toolsReply)
	}
}

func TestWrongThenCorrectionSaved(t *testing.T) {
	f := newFixture(t, "MoS2 밴드갭은 2.0eV")
	ctx := context.Background()

	f.dispatcher.HandleMessage(ctx, "u1", "MoS2 밴드갭 알려줘")

	prompt := f.dispatcher.HandleMessage(ctx, "u1", "/wrong")
	if !strings.Contains(prompt, "교정") {
		t.Fatalf("wrong reply = %q", prompt)
	}

	ack := f.dispatcher.HandleMessage(ctx, "u1", "1.8eV가 맞아")
	if !strings.Contains(ack, "저장했어") {
		t.Fatalf("correction ack = %q", ack)
	}

	fm := memory.NewFeedbackManager(f.store)
	saved, err := fm.RecentFeedback(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) == 0 {
		t.Fatal("no feedback saved")
	}
	last := saved[0]
	if last.OriginalAction != "MoS2 밴드갭은 2.0eV" || last.Correction != "1.8eV가 맞아" {
		t.Errorf("feedback = %+v", last)
	}
	if last.Category != "manual" {
		t.Errorf("category = %q", last.Category)
	}
}

func TestWrongWithoutHistory(t *testing.T) {
	f := newFixture(t)
	got := f.dispatcher.HandleMessage(context.Background(), "fresh", "/wrong")
	if !strings.Contains(got, "이전 응답이 없어") {
		t.Errorf("reply = %q", got)
	}
}

func TestMailDigestCommand(t *testing.T) {
	f := newFixture(t)
	got := f.dispatcher.HandleMessage(context.Background(), "u1", "/mail_digest")
	if !strings.Contains(got, "Mail Digest") || !strings.Contains(got, "URGENT: deadline today") {
		t.Errorf("digest = %q", got)
	}
	if !strings.Contains(got, "fetched=1") {
		t.Errorf("digest missing sync summary: %q", got)
	}
}

func TestMailAccountsCommand(t *testing.T) {
	f := newFixture(t)
	got := f.dispatcher.HandleMessage(context.Background(), "u1", "/mail_accounts")
	if !strings.Contains(got, "Mail Accounts") {
		t.Errorf("accounts = %q", got)
	}
	if !strings.Contains(got, "- uic (keywords: uic.edu)") {
		t.Errorf("accounts missing keyword line: %q", got)
	}
	if !strings.Contains(got, "- personal") {
		t.Errorf("accounts missing bare account: %q", got)
	}

	bare := NewDispatcher(Deps{})
	if got := bare.HandleMessage(context.Background(), "u1", "/mail_accounts"); got != "설정된 메일 계정이 없어." {
		t.Errorf("empty accounts = %q", got)
	}
}

func TestMailUrgentCommand(t *testing.T) {
	f := newFixture(t)
	got := f.dispatcher.HandleMessage(context.Background(), "u1", "/mail_urgent")
	if !strings.Contains(got, "Urgent Mails") {
		t.Errorf("urgent = %q", got)
	}
}

func TestMailActionsCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dispatcher.HandleMessage(ctx, "u1", "/mail_digest") // populate
	got := f.dispatcher.HandleMessage(ctx, "u1", "/mail_actions urgent")
	if !strings.Contains(got, "Mail Actions Proposal (urgent)") {
		t.Errorf("actions = %q", got)
	}
	if !strings.Contains(got, "delete는 미지원") {
		t.Errorf("actions missing safety note: %q", got)
	}
}

func TestReloadCommand(t *testing.T) {
	f := newFixture(t)
	got := f.dispatcher.HandleMessage(context.Background(), "u1", "/reload")
	if !strings.Contains(got, "리로드 완료") {
		t.Errorf("reload = %q", got)
	}
	if *f.reloads != 1 {
		t.Errorf("reload callback ran %d times", *f.reloads)
	}
}

func TestCallbackWithoutPendingExpires(t *testing.T) {
	f := newFixture(t)
	if got := f.dispatcher.HandleCallback("approve:deadbeef"); got != "expired" {
		t.Errorf("callback = %q", got)
	}
}

func TestTransportFallbackApproval(t *testing.T) {
	var sent []string
	tr := NewTransport(func(_ context.Context, text string) error {
		sent = append(sent, text)
		return nil
	}, nil)

	if err := tr.SendApprovalRequest(context.Background(), "승인 필요", "abc123"); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || !strings.Contains(sent[0], "approve:abc123") {
		t.Errorf("fallback approval = %v", sent)
	}
	if err := tr.SendAlert(context.Background(), "🚨"); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 2 {
		t.Errorf("alert not delivered")
	}
}
