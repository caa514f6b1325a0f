package extract

import (
	"strings"
	"testing"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New("test-key")
	if err != nil {
		t.Fatalf("unexpected error building extractor: %v", err)
	}
	return e
}

func TestTruncateLeavesShortMarkdownUntouched(t *testing.T) {
	e := newTestExtractor(t)
	md := "# hello\nworld"
	if got := e.truncate(md); got != md {
		t.Fatalf("expected untouched, got %q", got)
	}
}

func TestTruncateBoundsVeryLongMarkdown(t *testing.T) {
	e := newTestExtractor(t)
	md := strings.Repeat("word ", 300000)
	got := e.truncate(md)
	tokens := e.enc.Encode(got, nil, nil)
	if len(tokens) > MaxPromptTokens {
		t.Fatalf("expected truncated output within token bound, got %d tokens", len(tokens))
	}
}

func TestBuildPromptIncludesSchemaAndInstructions(t *testing.T) {
	e := newTestExtractor(t)
	req := Request{Markdown: "content", Schema: []byte(`{"type":"object"}`), Prompt: "only the title"}
	prompt := e.buildPrompt(req)
	if !strings.Contains(prompt, `{"type":"object"}`) {
		t.Fatalf("expected schema embedded in prompt")
	}
	if !strings.Contains(prompt, "only the title") {
		t.Fatalf("expected extra instructions embedded in prompt")
	}
	if !strings.Contains(prompt, "content") {
		t.Fatalf("expected page content embedded in prompt")
	}
}
