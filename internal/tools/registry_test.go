package tools

import (
	"context"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Category:    CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "success", nil
		},
		Schema: Schema{
			Required: []string{},
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Name != "test_tool" {
		t.Errorf("got name %q, want %q", got.Name, "test_tool")
	}
	if !reg.Has("test_tool") || reg.Has("other") {
		t.Error("Has disagrees with Get")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:     "dupe",
		Category: CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	if err := reg.Register(tool); err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		tool    *Tool
		wantErr error
	}{
		{
			name:    "empty name",
			tool:    &Tool{Name: "", Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
			wantErr: ErrToolNameEmpty,
		},
		{
			name:    "nil execute",
			tool:    &Tool{Name: "test", Execute: nil},
			wantErr: ErrToolExecuteNil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Register(tt.tool); err == nil {
				t.Errorf("expected error %v, got nil", tt.wantErr)
			}
		})
	}
}

func TestByCategory(t *testing.T) {
	reg := NewRegistry()

	tools := []*Tool{
		{Name: "search_b", Category: CategoryResearch, Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
		{Name: "search_a", Category: CategoryResearch, Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
		{Name: "digest", Category: CategoryMail, Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
	}
	for _, tool := range tools {
		reg.MustRegister(tool)
	}

	research := reg.ByCategory(CategoryResearch)
	if len(research) != 2 {
		t.Fatalf("expected 2 research tools, got %d", len(research))
	}
	if research[0].Name != "search_a" {
		t.Errorf("expected name-sorted tools, got %s first", research[0].Name)
	}
}

func TestGetMultipleSkipsMissing(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{Name: "a", Category: CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }})

	got := reg.GetMultiple([]string{"a", "ghost", "a"})
	if len(got) != 2 || got[0].Name != "a" {
		t.Errorf("GetMultiple = %v", got)
	}
}

func TestExecute(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:     "echo",
		Category: CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "Echo: " + StringArg(args, "message"), nil
		},
		Schema: Schema{
			Required:   []string{"message"},
			Properties: map[string]Property{"message": {Type: "string"}},
		},
	}
	reg.MustRegister(tool)

	result, err := reg.Execute(context.Background(), "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Result != "Echo: hello" {
		t.Errorf("got result %q, want %q", result.Result, "Echo: hello")
	}
	if !result.IsSuccess() {
		t.Error("expected IsSuccess to be true")
	}

	// Missing required arg.
	if _, err = reg.Execute(context.Background(), "echo", map[string]any{}); err == nil {
		t.Error("expected error for missing required arg")
	}

	// Unknown tool.
	if _, err = reg.Execute(context.Background(), "nonexistent", map[string]any{}); err == nil {
		t.Error("expected error for nonexistent tool")
	}
}

func TestPreflightable(t *testing.T) {
	free := &Tool{Name: "f", Schema: Schema{Required: []string{}}}
	bound := &Tool{Name: "b", Schema: Schema{Required: []string{"query"}}}
	if !free.Preflightable() || bound.Preflightable() {
		t.Error("preflight eligibility must track required params")
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s":    "text",
		"n":    float64(7),
		"flag": true,
		"list": []any{"a", 1, "b"},
	}
	if StringArg(args, "s") != "text" || StringArg(args, "missing") != "" {
		t.Error("StringArg")
	}
	if IntArg(args, "n", 0) != 7 || IntArg(args, "missing", 3) != 3 {
		t.Error("IntArg")
	}
	if !BoolArg(args, "flag", false) || BoolArg(args, "missing", true) != true {
		t.Error("BoolArg")
	}
	if got := StringListArg(args, "list"); len(got) != 2 || got[1] != "b" {
		t.Errorf("StringListArg = %v", got)
	}
}
