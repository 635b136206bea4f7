package router

import (
	"context"
	"fmt"
	"strings"

	"polaris/internal/logging"
	"polaris/internal/memory"
	"polaris/internal/skills"
)

// personaPrompt is the always-present base layer: language, identity,
// tone, and output rules.
const personaPrompt = `[LANGUAGE]
한국어로만 답변. 한자(漢字), 중국어, 일본어 금지.
전문 용어는 한글(영어) 형식 허용. 예: 엔트로피(Entropy)

[IDENTITY]
너는 Polaris. 종민이의 AI 비서이자 대화 상대야.
종민: UIC 물리학 박사과정, 시카고 거주 한국인.
할 수 있는 것: 논문 검색, 이메일 관리, VASP 시뮬레이션, 일정 관리, 일상 대화.

[TONE]
- 반말 전용. "~해", "~어", "~지" 사용. "~요", "~세요", "~합니다" 금지.
- 자연스러운 한국어 구어체. 번역투 금지.
- 일상 대화엔 가볍게 응대. 모든 대화를 연구로 돌리지 마.
- Tiki-Taka: 공감 후 반드시 관련 질문을 던져서 대화를 이어가.
- 사용자가 "잘 자" 등 종료 신호를 보내기 전에 절대 먼저 작별 인사 금지.

[RULES]
- 도구 결과의 고유명사(이름, 제목)는 그대로 전달. 임의 생성 금지.
- 도구 필요 시 도구 호출. 불필요 시 자연스럽게 대화.
- YAML frontmatter, tags 등 메타데이터 응답에 포함 금지.`

// fewShotExamples steer tool selection; injected only when the turn
// actually carries tools.
const fewShotExamples = `[FEW-SHOT EXAMPLES]
User: "오늘 일정 알려줘" -> Call: get_calendar_briefing
User: "MoS2 논문 찾아줘" -> Call: search_arxiv(query="MoS2")
User: "이메일 확인해줘" -> Call: analyze_emails
User: "안녕? 잘 지내?" -> No tool needed, respond directly.`

// maxSkillPrompts caps skill injection to control the token budget.
const maxSkillPrompts = 2

// buildSystemPrompt assembles the layered system prompt for one turn.
// Every layer past the persona is optional; a missing store, vault
// index, or feedback manager just drops its layer.
func (r *Router) buildSystemPrompt(ctx context.Context, message, sessionID string, matched []skills.Skill, hasTools bool) string {
	log := logging.Get(logging.CategoryRouter)
	var b strings.Builder
	b.WriteString(personaPrompt)

	if r.master != nil {
		if persona := strings.TrimSpace(r.master.ReadSection("00_PERSONA")); persona != "" {
			b.WriteString("\n\n" + persona)
		}
		if fewshot := strings.TrimSpace(r.master.ReadSection("99_SYSTEM")); fewshot != "" {
			b.WriteString("\n\n" + fewshot)
		}
	}

	for i, skill := range matched {
		if i >= maxSkillPrompts {
			break
		}
		if skill.Prompt == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("\n\n[SKILL: %s]\n%s", skill.Name, skill.Prompt))
		log.Infof("injected skill: %s", skill.Name)
	}

	if hasTools {
		b.WriteString("\n\n" + fewShotExamples)
	}

	if r.store != nil && sessionID != "" {
		recent, err := r.store.GetRecent(ctx, sessionID, 5)
		if err != nil {
			log.Warnf("failed to read recent conversations: %v", err)
		} else if len(recent) > 0 {
			b.WriteString("\n\n--- Recent conversation ---")
			for _, turn := range recent {
				b.WriteString(fmt.Sprintf("\n[%s] %s", turn.Role, clipRunes(turn.Content, 200)))
			}
			b.WriteString("\n--- End conversation ---")
		}
	}

	if r.store != nil {
		hits, err := r.store.SearchVaultKnowledge(ctx, message, 2)
		if err == nil && len(hits) > 0 {
			b.WriteString("\n\n[참고: 내 노트에서]")
			for _, hit := range hits {
				b.WriteString(fmt.Sprintf("\n- %s: %s", hit.Title, clipRunes(hit.Content, 500)))
			}
		}
	}

	if r.feedback != nil {
		feedbacks, err := r.feedback.RelevantFeedback(ctx, message, 3)
		if err == nil {
			if caution := memory.FormatAsCaution(feedbacks); caution != "" {
				b.WriteString("\n\n" + caution)
			}
		}
	}

	return b.String()
}

// enforcementBlock tells the model the mandated tool chain when a
// matched skill requires tools.
func enforcementBlock(e enforcement) string {
	chain := strings.Join(e.chainTools, ", ")
	if chain == "" {
		chain = "없음"
	}
	return "[SKILL TOOL ENFORCEMENT]\n" +
		"이 요청은 스킬 정책상 도구 호출이 필수야. " +
		"도구 결과 없이 추정 답변을 만들면 안 돼. " +
		"필수 체인(순서): " + chain + ".\n" +
		"필수 인자가 부족하면 임의로 채우지 말고 사용자에게 추가 정보를 요청해."
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
