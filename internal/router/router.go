// Package router is the agent core: a ReAct loop that matches skills,
// filters tools, assembles a layered system prompt, drives the LLM
// through tool-call rounds under the approval gate, and persists the
// turn afterwards.
package router

import (
	"context"
	"fmt"
	"strings"

	"polaris/internal/approval"
	"polaris/internal/config"
	"polaris/internal/llm"
	"polaris/internal/logging"
	"polaris/internal/memory"
	"polaris/internal/skills"
	"polaris/internal/tools"
	"polaris/internal/trace"
)

// User-facing refusals and diagnostics.
const (
	refusalNoSkillTools = "이 요청은 도구 실행이 필수인데, 사용 가능한 스킬 도구를 찾지 못했어. " +
		"스킬 설정(tool_chain/tools_required)을 확인해줘."
	refusalNoToolResult = "이 요청은 도구 실행 결과가 있어야 답변할 수 있어. " +
		"현재 도구 호출이 없었거나 모두 실패해서 추정 답변은 제공하지 않을게."
	fallbackExhausted = "허용된 단계 안에서 요청을 끝내지 못했어."
)

// Result is the outcome of one routed turn.
type Result struct {
	Response  string
	ToolsUsed []string
}

// Router wires the per-turn pipeline. Every collaborator except the
// LLM client and tool registry may be nil; a missing one just drops
// its layer or persistence step.
type Router struct {
	cfg    config.LLMConfig
	client llm.Client
	tools  *tools.Registry
	skills *skills.Registry

	gate      *approval.Gate
	transport approval.Transport
	traces    *trace.Store

	store    *memory.Store
	master   *memory.MasterPrompt
	feedback *memory.FeedbackManager
	facts    *memory.FactExtractor
}

// Options collects the optional collaborators.
type Options struct {
	Skills    *skills.Registry
	Gate      *approval.Gate
	Transport approval.Transport
	Traces    *trace.Store
	Store     *memory.Store
	Master    *memory.MasterPrompt
	Feedback  *memory.FeedbackManager
	Facts     *memory.FactExtractor
}

// New creates a router.
func New(cfg config.LLMConfig, client llm.Client, registry *tools.Registry, opts Options) *Router {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	return &Router{
		cfg:       cfg,
		client:    client,
		tools:     registry,
		skills:    opts.Skills,
		gate:      opts.Gate,
		transport: opts.Transport,
		traces:    opts.Traces,
		store:     opts.Store,
		master:    opts.Master,
		feedback:  opts.Feedback,
		facts:     opts.Facts,
	}
}

// Route runs one user turn end to end. It never returns an error to
// the transport: LLM failures become short diagnostic responses.
func (r *Router) Route(ctx context.Context, message string, history []llm.Message, sessionID string) Result {
	log := logging.Get(logging.CategoryRouter)

	var matched []skills.Skill
	if r.skills != nil {
		matched = r.skills.Match(message)
	}
	policy := resolveEnforcement(matched, r.tools)

	turnTools := r.selectTools(message, policy)
	if policy.requiresTool && len(turnTools) == 0 {
		return r.persistTurn(ctx, message, sessionID, history, Result{Response: refusalNoSkillTools})
	}

	systemPrompt := r.buildSystemPrompt(ctx, message, sessionID, matched, len(turnTools) > 0)
	if policy.requiresTool {
		systemPrompt += "\n\n" + enforcementBlock(policy)
	}

	var toolsUsed, successful []string
	if lines := r.runPreflight(ctx, policy.preflightTools, sessionID, &toolsUsed, &successful); lines != "" {
		systemPrompt += "\n" + lines
	}

	messages := append([]llm.Message{}, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	model := llm.SelectModel(r.cfg, len(turnTools) > 0)
	log.Infof("routing with model %s (tools=%d, skills=%d)", model, len(turnTools), len(matched))

	var lastText string
	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		resp, err := r.client.Chat(ctx, llm.Request{
			Model:     model,
			System:    systemPrompt,
			Messages:  messages,
			Tools:     turnTools,
			MaxTokens: 4096,
		})
		if err != nil {
			log.Errorf("llm call failed: %v", err)
			return r.persistTurn(ctx, message, sessionID, history, Result{
				Response:  fmt.Sprintf("API 오류가 발생했어: %v", err),
				ToolsUsed: toolsUsed,
			})
		}

		if len(resp.ToolCalls) == 0 {
			lastText = resp.Text
			if policy.requiresTool && len(successful) == 0 {
				return r.persistTurn(ctx, message, sessionID, history, Result{
					Response:  refusalNoToolResult,
					ToolsUsed: toolsUsed,
				})
			}
			return r.persistTurn(ctx, message, sessionID, history, Result{
				Response:  resp.Text,
				ToolsUsed: toolsUsed,
			})
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		lastText = resp.Text

		for _, call := range resp.ToolCalls {
			toolsUsed = append(toolsUsed, call.Name)
			observation, ok := r.executeGated(ctx, call.Name, call.Args, sessionID)
			if ok {
				successful = append(successful, call.Name)
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    observation,
			})
		}
	}

	log.Warnf("react loop hit max iterations (%d)", r.cfg.MaxIterations)
	if lastText == "" {
		lastText = fallbackExhausted
	}
	return r.persistTurn(ctx, message, sessionID, history, Result{Response: lastText, ToolsUsed: toolsUsed})
}

// selectTools picks the per-turn toolset: the skill's mandated list
// when enforcement is active, otherwise a keyword filter over the
// whole registry.
func (r *Router) selectTools(message string, policy enforcement) []*tools.Tool {
	if policy.requiresTool && len(policy.allowedTools) > 0 {
		return r.tools.GetMultiple(policy.allowedTools)
	}
	msgLower := strings.ToLower(message)
	var selected []*tools.Tool
	for _, tool := range r.tools.All() {
		if matchesKeywords(tool.Name, msgLower) {
			selected = append(selected, tool)
		}
	}
	return selected
}

// runPreflight executes zero-argument chain tools before the first
// model turn and renders their results as a prompt block. Failures
// are noted but non-fatal.
func (r *Router) runPreflight(ctx context.Context, names []string, sessionID string, toolsUsed, successful *[]string) string {
	if len(names) == 0 {
		return ""
	}
	lines := []string{"[PREFLIGHT TOOL RESULTS]"}
	for _, name := range names {
		*toolsUsed = append(*toolsUsed, name)
		observation, ok := r.executeGated(ctx, name, map[string]any{}, sessionID)
		if ok {
			*successful = append(*successful, name)
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", name, clipRunes(observation, 500)))
	}
	return strings.Join(lines, "\n")
}

// executeGated runs one tool call through the approval gate and logs
// a trace row for the invocation, approved or not. The returned
// string is the model's observation; ok reports a successful,
// non-error execution.
func (r *Router) executeGated(ctx context.Context, name string, args map[string]any, sessionID string) (string, bool) {
	log := logging.Get(logging.CategoryRouter)

	exec := func(ctx context.Context) (string, error) {
		result, err := r.tools.Execute(ctx, name, args)
		if err != nil {
			return "", err
		}
		return result.Result, nil
	}

	var observation string
	var level approval.RiskLevel
	var approvedBy string
	ok := false

	if r.gate != nil {
		decision, err := r.gate.ExecuteWithApproval(ctx, name, args, exec, r.transport)
		level, approvedBy = decision.Level, decision.ApprovedBy
		switch {
		case err != nil:
			observation = fmt.Sprintf("Tool '%s' failed: %v", name, err)
		case !decision.Approved:
			observation = fmt.Sprintf("Tool '%s' was not approved (%s); no action was taken.", name, decision.ApprovedBy)
		default:
			observation = decision.Result
			ok = !looksLikeToolError(observation)
		}
	} else {
		level, approvedBy = approval.RiskOf(name), "ungated"
		text, err := exec(ctx)
		if err != nil {
			observation = fmt.Sprintf("Tool '%s' failed: %v", name, err)
		} else {
			observation = text
			ok = !looksLikeToolError(observation)
		}
	}

	if r.traces != nil {
		thought := fmt.Sprintf("tool call from react loop (success=%v)", ok)
		if _, err := r.traces.Log(ctx, thought, name, args, clipRunes(observation, 2000), string(level), approvedBy, sessionID); err != nil {
			log.Warnf("trace write failed for %s: %v", name, err)
		}
	}
	return observation, ok
}

// looksLikeToolError is a best-effort sniff of the error-payload
// convention used by the tool handlers.
func looksLikeToolError(result string) bool {
	lower := strings.ToLower(result)
	return (strings.Contains(lower, "tool '") && strings.Contains(lower, "failed")) ||
		strings.Contains(lower, `"error"`)
}

// persistTurn runs the post-turn persistence chain in order:
// correction detection, conversation save, fact extraction. All of it
// is best-effort; the response is returned regardless.
func (r *Router) persistTurn(ctx context.Context, message, sessionID string, history []llm.Message, result Result) Result {
	log := logging.Get(logging.CategoryRouter)
	if sessionID == "" {
		return result
	}

	if r.feedback != nil && memory.DetectCorrection(message) {
		prev := ""
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == llm.RoleAssistant {
				prev = history[i].Content
				break
			}
		}
		if _, err := r.feedback.SaveCorrection(ctx, sessionID, prev, message, ""); err != nil {
			log.Warnf("failed to save correction: %v", err)
		} else {
			log.Infof("correction detected and saved for session %s", sessionID)
		}
	}

	if r.store != nil {
		if _, err := r.store.SaveConversation(ctx, sessionID, "user", message); err != nil {
			log.Warnf("failed to save user turn: %v", err)
		}
		if result.Response != "" {
			if _, err := r.store.SaveConversation(ctx, sessionID, "assistant", result.Response); err != nil {
				log.Warnf("failed to save assistant turn: %v", err)
			}
		}
	}

	if r.facts != nil && memory.ShouldExtract(message) {
		facts := r.facts.Extract(message)
		if len(facts) > 0 {
			saved := r.facts.SaveAndUpdate(ctx, facts)
			log.Infof("extracted and saved %d facts from session %s", saved, sessionID)
		}
	}

	return result
}
