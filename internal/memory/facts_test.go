package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShouldExtract(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"", false},
		{"ㅋㅋㅋ", false},
		{"안녕", false},
		{"thanks!", false},
		{"good night", false},
		{"짧다", false}, // below minimum length
		{"나 ONETEP 쓰기 시작했어 요즘", true},
		{"이번 학기 고체물리 조교 맡았어", true},
	}

	for _, tt := range tests {
		if got := ShouldExtract(tt.msg); got != tt.want {
			t.Errorf("ShouldExtract(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestExtractFacts(t *testing.T) {
	fe := NewFactExtractor(nil, nil)

	facts := fe.Extract("나 ONETEP 쓰기 시작했어")
	if len(facts) == 0 {
		t.Fatal("expected at least one fact")
	}
	if facts[0].Category != "research" {
		t.Errorf("category = %q, want research", facts[0].Category)
	}
	if !strings.Contains(facts[0].Title, "ONETEP") {
		t.Errorf("title %q should mention the tool", facts[0].Title)
	}
	if facts[0].Source != "conversation" {
		t.Errorf("source = %q", facts[0].Source)
	}
}

func TestExtractDeduplicatesTitles(t *testing.T) {
	fe := NewFactExtractor(nil, nil)

	// Both cat patterns can fire on the same sentence; titles must be unique.
	facts := fe.Extract("시루가 요즘 사료를 잘 먹어")
	seen := make(map[string]bool)
	for _, f := range facts {
		if seen[f.Title] {
			t.Errorf("duplicate title within one extraction: %q", f.Title)
		}
		seen[f.Title] = true
	}
}

func TestExtractCareer(t *testing.T) {
	fe := NewFactExtractor(nil, nil)

	facts := fe.Extract("삼성 인턴십에 합격했어!")
	var categories []string
	for _, f := range facts {
		categories = append(categories, f.Category)
	}
	found := false
	for _, c := range categories {
		if c == "career" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a career fact, got %v", categories)
	}
}

func TestSectionFor(t *testing.T) {
	tests := []struct {
		category string
		want     string
	}{
		{"research", "02_RESEARCH"},
		{"dev", "02_DEV"},
		{"career", "99_CURRENT_CONTEXT"},
		{"unknown", "99_CURRENT_CONTEXT"},
	}
	for _, tt := range tests {
		if got := SectionFor(Fact{Category: tt.category}); got != tt.want {
			t.Errorf("SectionFor(%s) = %q, want %q", tt.category, got, tt.want)
		}
	}
}

func TestSaveAndUpdateWritesMasterPrompt(t *testing.T) {
	s := newTestStore(t, nil)
	mpPath := filepath.Join(t.TempDir(), "master_prompt.md")
	mp := NewMasterPrompt(mpPath)
	fe := NewFactExtractor(s, mp)

	facts := fe.Extract("나 ONETEP 쓰기 시작했어")
	if len(facts) == 0 {
		t.Fatal("no facts extracted")
	}

	saved := fe.SaveAndUpdate(context.Background(), facts)
	if saved != len(facts) {
		t.Errorf("saved %d of %d facts", saved, len(facts))
	}

	data, err := os.ReadFile(mpPath)
	if err != nil {
		t.Fatalf("master prompt not written: %v", err)
	}
	if !strings.Contains(string(data), "## "+CurrentContextSection) {
		t.Errorf("missing section header in:\n%s", data)
	}
	if !strings.Contains(string(data), "ONETEP") {
		t.Errorf("fact not mirrored into master prompt:\n%s", data)
	}

	// Second run with the same facts must not duplicate entries.
	fe.SaveAndUpdate(context.Background(), facts)
	data2, _ := os.ReadFile(mpPath)
	if strings.Count(string(data2), facts[0].Title) != 1 {
		t.Errorf("master prompt entry duplicated:\n%s", data2)
	}
}
