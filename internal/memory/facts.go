package memory

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"polaris/internal/logging"
)

// =============================================================================
// RULE-BASED FACT EXTRACTION
// =============================================================================
// Extracts salient facts about the user from conversation turns with
// regex rules only. No model calls — fast and deterministic.

// Fact is one extracted knowledge candidate.
type Fact struct {
	Category string
	Title    string
	Content  string
	Source   string
}

// factRule pairs a pattern with the category and title template it
// produces. Templates reference capture groups as {0}, {1}, ...
type factRule struct {
	re       *regexp.Regexp
	category string
	titleTpl string
}

var factRules = []factRule{
	// New tools / technologies
	{regexp.MustCompile(`(?i)나\s+(.+?)\s*(시작했어|쓰게\s*됐어|배우고\s*있어|쓰기\s*시작|써보고\s*있어|도\s*쓰게|도\s*써)`), "research", "{0} 도구/기술 사용 시작"},
	{regexp.MustCompile(`(?i)(.+?)\s*(설치했어|깔았어|세팅했어|설정했어|셋업했어)`), "research", "{0} 환경 설정"},

	// Status changes (pass/fail)
	{regexp.MustCompile(`(?i)(.+?)\s*(에\s*)?합격했어`), "career", "{0} 합격"},
	{regexp.MustCompile(`(?i)(.+?)\s*(에\s*)?불합격했어`), "career", "{0} 불합격"},
	{regexp.MustCompile(`(?i)(.+?)\s*(에\s*)?(붙었어|떨어졌어|통과했어)`), "career", "{0} 결과"},

	// Purchases / changes
	{regexp.MustCompile(`(?i)나\s+(.+?)\s*(샀어|바꿨어|구매했어|질렀어|주문했어)`), "life", "{0} 구매/변경"},

	// Cat-related (시루, 설기)
	{regexp.MustCompile(`(?i)(시루|설기)\s*[가이은는]\s*(.+)`), "life", "{0} 관련 정보"},
	{regexp.MustCompile(`(?i)(시루|설기)\s+(.+)`), "life", "{0} 관련 정보"},

	// Semester / academic
	{regexp.MustCompile(`(?i)이번\s*학기\s*(.+)`), "academic", "이번 학기 {0}"},
	{regexp.MustCompile(`(?i)다음\s*학기\s*(.+)`), "academic", "다음 학기 {0}"},

	// Research findings
	{regexp.MustCompile(`(?i)연구에서\s+(.+?)\s*(발견했어|확인했어|알아냈어|밝혀졌어)`), "research", "연구 발견: {0}"},
	{regexp.MustCompile(`(?i)(시뮬레이션|계산|DFT|VASP|ONETEP)\s*(결과|에서)\s*(.+)`), "research", "{0} 결과"},
	{regexp.MustCompile(`(?i)(밴드갭|band\s*gap)\s*[이가은는]\s*(.+?(?:\d+\.?\d*\s*(?:eV|meV|eV야|eV어)).*)`), "research", "밴드갭 정보: {1}"},

	// Internship / career
	{regexp.MustCompile(`(?i)인턴십\s+(.+)`), "career", "인턴십 {0}"},
	{regexp.MustCompile(`(?i)인턴\s+(.+)`), "career", "인턴 {0}"},
	{regexp.MustCompile(`(?i)(직장|회사|취직)\s*(.+)`), "career", "커리어: {1}"},

	// Vehicle / mileage
	{regexp.MustCompile(`(?i)(\d[\d,]*)\s*(km|마일|mile)\s*.*(교체|갈았어|했어|체크)`), "vehicle", "차량 주행거리 {0}{1}"},
	{regexp.MustCompile(`(?i)(엔진오일|타이어|브레이크|배터리)\s*(.+?)(?:교체|갈았어|했어|체크)`), "vehicle", "{0} 정비"},

	// Moving / address
	{regexp.MustCompile(`(?i)(이사|이사했어|이사\s*가|이사\s*갈\s*거)`), "life", "이사 관련"},

	// Health
	{regexp.MustCompile(`(?i)(병원|아파서|감기|코로나|독감)\s*(.+)`), "life", "건강: {0}"},
}

// categoryToSection maps fact categories to master prompt sections.
var categoryToSection = map[string]string{
	"research": "02_RESEARCH",
	"dev":      "02_DEV",
	"academic": "99_CURRENT_CONTEXT",
	"career":   "99_CURRENT_CONTEXT",
	"life":     "99_CURRENT_CONTEXT",
	"vehicle":  "99_CURRENT_CONTEXT",
}

// highImportance categories get mirrored into the master prompt.
var highImportance = map[string]bool{
	"career":   true,
	"research": true,
	"academic": true,
}

// MinExtractLength is the shortest message worth running rules on.
const MinExtractLength = 10

// skipPattern rejects greetings and acknowledgements outright.
var skipPattern = regexp.MustCompile(`(?i)^(ㅋ+|ㅎ+|ㅠ+|ㅜ+|안녕|고마워|감사|ㅇㅋ|ㅇㅇ|응|아니|네|오키|잘\s*자|굿나잇|good\s*night|thanks|thank\s*you|ok|okay|hi|hello|hey|bye|gn)[\s!?.]*$`)

// FactExtractor runs the rules and persists the results.
type FactExtractor struct {
	store  *Store
	master *MasterPrompt
}

// NewFactExtractor wires the extractor to the memory store and the
// master prompt writer. Either may be nil; the corresponding side
// effect is skipped.
func NewFactExtractor(store *Store, master *MasterPrompt) *FactExtractor {
	return &FactExtractor{store: store, master: master}
}

// ShouldExtract pre-filters messages: too short or pure greeting means
// skip the rule pass entirely.
func ShouldExtract(msg string) bool {
	if len([]rune(msg)) < MinExtractLength {
		return false
	}
	return !skipPattern.MatchString(strings.TrimSpace(msg))
}

// Extract runs every rule against the message. Titles are deduplicated
// within one call; the content of every fact is the whole message.
func (fe *FactExtractor) Extract(msg string) []Fact {
	var facts []Fact
	seen := make(map[string]bool)

	for _, rule := range factRules {
		m := rule.re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}

		title := expandTemplate(rule.titleTpl, m[1:])
		if seen[title] {
			continue
		}
		seen[title] = true

		facts = append(facts, Fact{
			Category: rule.category,
			Title:    title,
			Content:  strings.TrimSpace(msg),
			Source:   "conversation",
		})
	}
	return facts
}

// expandTemplate substitutes {0}, {1}, ... with capture groups.
func expandTemplate(tpl string, groups []string) string {
	out := tpl
	for i, g := range groups {
		out = strings.ReplaceAll(out, "{"+strconv.Itoa(i)+"}", g)
	}
	return out
}

// SectionFor maps a fact to its master prompt section.
func SectionFor(f Fact) string {
	if s, ok := categoryToSection[f.Category]; ok {
		return s
	}
	return "99_CURRENT_CONTEXT"
}

// SaveAndUpdate persists facts to the knowledge table and mirrors
// high-importance ones into the master prompt's current-context
// section. Returns the number of facts saved. Persistence failures are
// logged, never propagated.
func (fe *FactExtractor) SaveAndUpdate(ctx context.Context, facts []Fact) int {
	if len(facts) == 0 {
		return 0
	}
	log := logging.Get(logging.CategoryMemory)

	saved := 0
	var important []Fact
	for _, f := range facts {
		if fe.store != nil {
			if _, err := fe.store.SaveKnowledge(ctx, f.Category, f.Title, f.Content, f.Source, []string{f.Category}); err != nil {
				log.Warnf("failed to save fact %q: %v", f.Title, err)
			} else {
				saved++
				log.Infof("saved fact: %s", f.Title)
			}
		}
		if highImportance[f.Category] {
			important = append(important, f)
		}
	}

	if len(important) > 0 && fe.master != nil {
		if err := fe.master.AppendCurrentContext(important); err != nil {
			log.Warnf("failed to update master prompt: %v", err)
		}
	}
	return saved
}
