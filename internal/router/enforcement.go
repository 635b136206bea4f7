package router

import (
	"polaris/internal/skills"
	"polaris/internal/tools"
)

// enforcement is the tool policy derived from the matched skills for
// one turn.
type enforcement struct {
	requiresTool bool
	strictMode   bool

	// allowedTools restricts the per-turn toolset when requiresTool is
	// set; chainTools is the mandated call order surfaced to the model.
	allowedTools []string
	chainTools   []string

	// preflightTools run before the first model turn. Only tools whose
	// schema has no required parameters qualify.
	preflightTools []string
}

// resolveEnforcement folds the matched skills into one policy.
// requires_tool and strict_mode OR together; tool lists union in
// first-seen order, preferring each skill's tool_chain over its
// tools_required.
func resolveEnforcement(matched []skills.Skill, registry *tools.Registry) enforcement {
	var e enforcement
	seen := map[string]bool{}

	for _, skill := range matched {
		if !skill.RequiresTool {
			continue
		}
		e.requiresTool = true
		e.strictMode = e.strictMode || skill.StrictMode

		ordered := skill.ToolChain
		if len(ordered) == 0 {
			ordered = skill.ToolsRequired
		}
		for _, name := range ordered {
			if seen[name] {
				continue
			}
			seen[name] = true
			e.allowedTools = append(e.allowedTools, name)
			e.chainTools = append(e.chainTools, name)

			tool := registry.Get(name)
			if tool != nil && tool.Preflightable() {
				e.preflightTools = append(e.preflightTools, name)
			}
		}
	}
	return e
}
