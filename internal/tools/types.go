// Package tools defines the agent's callable tools: JSON-schema
// described operations the model can request during a turn. Each tool
// is a thin adapter over a domain service and returns a JSON string
// payload, with domain failures encoded in the payload rather than as
// Go errors so the model can read and react to them.
package tools

import (
	"context"
	"encoding/json"
)

// Category classifies tools for keyword-based filtering and help
// listings.
type Category string

const (
	// CategoryResearch covers paper search, download, and analysis.
	CategoryResearch Category = "research"

	// CategoryMail covers mail triage, digests, and mailbox actions.
	CategoryMail Category = "mail"

	// CategoryCalendar covers schedule briefings and event creation.
	CategoryCalendar Category = "calendar"

	// CategoryHPC covers cluster job monitoring and physics requests.
	CategoryHPC Category = "hpc"

	// CategoryGeneral is for tools usable from any conversation.
	CategoryGeneral Category = "general"
)

// Property describes a single parameter for the JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines the JSON schema for tool arguments.
type Schema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution. The returned
// string is conventionally JSON.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one registered tool definition plus its handler.
type Tool struct {
	// Name uniquely identifies the tool to the model and the risk table.
	Name string

	// Description is shown to the model. Korean user-facing wording,
	// with "NOT for:" hints to steer selection away from wrong uses.
	Description string

	// Category classifies the tool for filtering.
	Category Category

	// Execute runs the tool.
	Execute ExecuteFunc

	// Schema declares the expected arguments.
	Schema Schema
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Preflightable reports whether the tool can run before the model
// speaks: only tools with no required parameters qualify.
func (t *Tool) Preflightable() bool {
	return len(t.Schema.Required) == 0
}

// Result wraps one execution with metadata.
type Result struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess reports whether the tool executed without error.
func (r *Result) IsSuccess() bool {
	return r.Error == nil
}

// =============================================================================
// PAYLOAD HELPERS
// =============================================================================

// errorJSON encodes a domain failure as a payload the model can read.
func errorJSON(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// okJSON marshals a success payload, degrading to an error payload if
// the value itself cannot be encoded.
func okJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return errorJSON("failed to encode result: " + err.Error())
	}
	return string(data)
}
