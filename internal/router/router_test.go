package router

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
	"polaris/internal/memory"
	"polaris/internal/skills"
	"polaris/internal/tools"
	"polaris/internal/trace"
)

// scriptedLLM replays a fixed sequence of responses and records every
// request it saw.
type scriptedLLM struct {
	mu       sync.Mutex
	script   []*llm.Response
	requests []llm.Request
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		return &llm.Response{Text: "…"}, nil
	}
	resp := s.script[0]
	s.script = s.script[1:]
	return resp, nil
}

func textTurn(text string) *llm.Response {
	return &llm.Response{Text: text, StopReason: "stop"}
}

func toolTurn(id, name string, args map[string]any) *llm.Response {
	return &llm.Response{
		StopReason: "tool_calls",
		ToolCalls:  []llm.ToolCall{{ID: id, Name: name, Args: args}},
	}
}

// buttonTransport auto-answers every approval request with the
// configured verb, simulating an instant user button press.
type buttonTransport struct {
	gate *approval.Gate
	verb string

	mu       sync.Mutex
	requests []string
	messages []string
}

func (b *buttonTransport) SendApprovalRequest(_ context.Context, text, callbackID string) error {
	b.mu.Lock()
	b.requests = append(b.requests, text)
	b.mu.Unlock()
	go b.gate.HandleCallback(b.verb + ":" + callbackID)
	return nil
}

func (b *buttonTransport) SendMessage(_ context.Context, text string) error {
	b.mu.Lock()
	b.messages = append(b.messages, text)
	b.mu.Unlock()
	return nil
}

type env struct {
	router    *Router
	client    *scriptedLLM
	store     *memory.Store
	traces    *trace.Store
	transport *buttonTransport
	skillsDir string
	downloads *int
}

func newEnv(t *testing.T, script []*llm.Response, verb string) *env {
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

	downloads := 0
	registry := tools.NewRegistry()
	registry.MustRegister(&tools.Tool{
		Name:        "search_arxiv",
		Description: "arXiv 논문 검색",
		Category:    tools.CategoryResearch,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return `{"papers":[{"title":"MoS2 strain"}],"count":3}`, nil
		},
		Schema: tools.Schema{
			Required:   []string{"query"},
			Properties: map[string]tools.Property{"query": {Type: "string"}},
		},
	})
	registry.MustRegister(&tools.Tool{
		Name:        "download_paper_pdf",
		Description: "논문 PDF 다운로드",
		Category:    tools.CategoryResearch,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			downloads++
			return `{"success":true}`, nil
		},
		Schema: tools.Schema{
			Required:   []string{"pdf_url"},
			Properties: map[string]tools.Property{"pdf_url": {Type: "string"}},
		},
	})

	gate := approval.NewGate(config.ApprovalConfig{
		ConfirmTimeout:  2 * time.Second,
		CriticalTimeout: 2 * time.Second,
	})
	transport := &buttonTransport{gate: gate, verb: verb}

	client := &scriptedLLM{script: script}
	r := New(config.LLMConfig{
		FastModel:     "fast",
		FullModel:     "full",
		MaxIterations: 10,
	}, client, registry, Options{
		Skills:    skills.NewRegistry(filepath.Join(dir, "skills"), nil),
		Gate:      gate,
		Transport: transport,
		Traces:    traces,
		Store:     store,
		Master:    memory.NewMasterPrompt(filepath.Join(dir, "master_prompt.md")),
		Feedback:  memory.NewFeedbackManager(store),
		Facts:     memory.NewFactExtractor(store, memory.NewMasterPrompt(filepath.Join(dir, "master_prompt.md"))),
	})

	return &env{
		router:    r,
		client:    client,
		store:     store,
		traces:    traces,
		transport: transport,
		skillsDir: filepath.Join(dir, "skills"),
		downloads: &downloads,
	}
}

func TestPureChatNoTools(t *testing.T) {
	e := newEnv(t, []*llm.Response{textTurn("응 잘 지내")}, "approve")
	ctx := context.Background()

	got := e.router.Route(ctx, "안녕? 잘 지내?", nil, "u1")
	if got.Response != "응 잘 지내" {
		t.Errorf("response = %q", got.Response)
	}
	if len(got.ToolsUsed) != 0 {
		t.Errorf("tools_used = %v", got.ToolsUsed)
	}

	// The greeting matched no keywords: fast model, no tools sent.
	req := e.client.requests[0]
	if req.Model != "fast" || len(req.Tools) != 0 {
		t.Errorf("model = %q tools = %d", req.Model, len(req.Tools))
	}

	// Both turns persisted, no trace row.
	recent, err := e.store.GetRecent(ctx, "u1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(recent))
	}
	if n, _ := e.traces.Count(ctx); n != 0 {
		t.Errorf("trace rows = %d, want 0", n)
	}
}

func TestArxivToolTurn(t *testing.T) {
	e := newEnv(t, []*llm.Response{
		toolTurn("call_1", "search_arxiv", map[string]any{"query": "MoS2"}),
		textTurn("MoS2 논문 3편 찾았어"),
	}, "approve")
	ctx := context.Background()

	got := e.router.Route(ctx, "MoS2 논문 검색해줘", nil, "u1")
	if got.Response != "MoS2 논문 3편 찾았어" {
		t.Errorf("response = %q", got.Response)
	}
	if len(got.ToolsUsed) != 1 || got.ToolsUsed[0] != "search_arxiv" {
		t.Errorf("tools_used = %v", got.ToolsUsed)
	}

	// Keyword filter selected the tool and switched to the full model.
	req := e.client.requests[0]
	if req.Model != "full" {
		t.Errorf("model = %q", req.Model)
	}
	names := map[string]bool{}
	for _, tool := range req.Tools {
		names[tool.Name] = true
	}
	if !names["search_arxiv"] {
		t.Errorf("toolset %v missing search_arxiv", req.Tools)
	}

	// The second request carries the tool observation.
	second := e.client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool || !strings.Contains(last.Content, `"count":3`) {
		t.Errorf("tool observation = %+v", last)
	}

	// AUTO execution still traces, with no approval request sent.
	rows, err := e.traces.ByTool(ctx, "search_arxiv", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ApprovalLevel != "AUTO" {
		t.Fatalf("trace rows = %+v", rows)
	}
	if len(e.transport.requests) != 0 {
		t.Errorf("AUTO tool sent an approval request")
	}
}

func TestGatedDownloadDenied(t *testing.T) {
	e := newEnv(t, []*llm.Response{
		toolTurn("call_1", "download_paper_pdf", map[string]any{"pdf_url": "http://x/p.pdf"}),
		textTurn("다운로드는 거부돼서 진행 안 했어"),
	}, "deny")
	ctx := context.Background()

	got := e.router.Route(ctx, "그 첫 번째 논문 받아줘", nil, "u1")
	if len(got.ToolsUsed) != 1 || got.ToolsUsed[0] != "download_paper_pdf" {
		t.Errorf("tools_used = %v", got.ToolsUsed)
	}
	if *e.downloads != 0 {
		t.Errorf("denied tool still executed %d times", *e.downloads)
	}

	// The model observed an explicit denial, not a fabricated result.
	second := e.client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "not approved") {
		t.Errorf("observation = %q", last.Content)
	}

	// Denied invocations trace too.
	rows, err := e.traces.ByTool(ctx, "download_paper_pdf", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ApprovedBy != "user" || rows[0].ApprovalLevel != "CONFIRM" {
		t.Fatalf("trace rows = %+v", rows)
	}
}

func TestCorrectionLoop(t *testing.T) {
	e := newEnv(t, []*llm.Response{
		textTurn("MoS2 밴드갭은 2.0eV"),
		textTurn("아 맞다, 1.8eV."),
		textTurn("응"),
	}, "approve")
	ctx := context.Background()

	first := e.router.Route(ctx, "MoS2 밴드갭 알려줘", nil, "u1")
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "MoS2 밴드갭 알려줘"},
		{Role: llm.RoleAssistant, Content: first.Response},
	}

	e.router.Route(ctx, "틀렸어, 1.8eV가 맞아", history, "u1")

	fm := memory.NewFeedbackManager(e.store)
	saved, err := fm.RecentFeedback(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 {
		t.Fatalf("feedback rows = %d, want 1", len(saved))
	}
	if saved[0].OriginalAction != "MoS2 밴드갭은 2.0eV" || saved[0].Correction != "틀렸어, 1.8eV가 맞아" {
		t.Errorf("feedback = %+v", saved[0])
	}

	// A later related turn carries the caution block.
	e.router.Route(ctx, "MoS2 밴드갭 다시 알려줘", nil, "u1")
	req := e.client.requests[len(e.client.requests)-1]
	if !strings.Contains(req.System, "[주의: 과거 실수 기록]") {
		t.Errorf("system prompt missing caution block")
	}
}

func TestVaultHitInPrompt(t *testing.T) {
	e := newEnv(t, []*llm.Response{textTurn("노트에 있던 내용이야")}, "approve")
	ctx := context.Background()

	_, err := e.store.SaveKnowledge(ctx, "research", "valley",
		"Valley polarization in MoS2 monolayer TMDC materials", "obsidian", nil)
	if err != nil {
		t.Fatal(err)
	}

	e.router.Route(ctx, "valley polarization이 뭐야?", nil, "u1")
	req := e.client.requests[0]
	if !strings.Contains(req.System, "[참고: 내 노트에서]") {
		t.Fatalf("system prompt missing vault block:\n%s", req.System)
	}
	if !strings.Contains(req.System, "- valley:") {
		t.Errorf("vault bullet missing title prefix")
	}
}

func TestRecentConversationInPrompt(t *testing.T) {
	e := newEnv(t, []*llm.Response{textTurn("a"), textTurn("b")}, "approve")
	ctx := context.Background()

	e.router.Route(ctx, "첫 번째 메시지야", nil, "u1")
	e.router.Route(ctx, "두 번째 메시지야", nil, "u1")

	req := e.client.requests[1]
	if !strings.Contains(req.System, "--- Recent conversation ---") {
		t.Errorf("second turn missing recent conversation block")
	}
	if !strings.Contains(req.System, "첫 번째 메시지야") {
		t.Errorf("recent block missing prior user turn")
	}
}

func TestMaxIterationsFallback(t *testing.T) {
	// The model asks for the same tool forever.
	var script []*llm.Response
	for i := 0; i < 20; i++ {
		script = append(script, toolTurn("c", "search_arxiv", map[string]any{"query": "x"}))
	}
	e := newEnv(t, script, "approve")

	got := e.router.Route(context.Background(), "논문 검색 무한히 해줘", nil, "u1")
	if got.Response != fallbackExhausted {
		t.Errorf("response = %q", got.Response)
	}
	if len(got.ToolsUsed) != 10 {
		t.Errorf("tools_used = %d, want max_iterations", len(got.ToolsUsed))
	}
}

func TestLLMErrorReturnsDiagnostic(t *testing.T) {
	e := newEnv(t, nil, "approve")
	e.client.script = nil
	failing := &failingLLM{}
	e.router.client = failing

	got := e.router.Route(context.Background(), "안녕", nil, "u1")
	if !strings.Contains(got.Response, "API 오류") {
		t.Errorf("response = %q", got.Response)
	}
}

type failingLLM struct{}

func (f *failingLLM) Name() string { return "failing" }
func (f *failingLLM) Chat(context.Context, llm.Request) (*llm.Response, error) {
	return nil, context.DeadlineExceeded
}
