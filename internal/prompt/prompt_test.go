package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildContainsPersonaAndMessageVerbatim(t *testing.T) {
	b := NewBuilder("")

	message := "def f(): pass  # unicode: héllo 世界"
	p := b.Build(message)

	if p.System != SystemInstructions {
		t.Fatalf("system instructions altered: %q", p.System)
	}
	if !strings.Contains(p.User, FallbackTemplate) {
		t.Fatalf("persona template not present verbatim in user content")
	}
	if !strings.Contains(p.User, message) {
		t.Fatalf("user message not present verbatim in user content: %q", p.User)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewBuilder("custom persona")

	first := b.Build("x = 1")
	second := b.Build("x = 1")

	if first != second {
		t.Fatalf("same input produced different prompts: %#v vs %#v", first, second)
	}
}

func TestBuildUsesCustomTemplate(t *testing.T) {
	b := NewBuilder("You are a stern reviewer.")

	p := b.Build("fmt.Println(42)")
	if !strings.HasPrefix(p.User, "You are a stern reviewer.") {
		t.Fatalf("custom template not used: %q", p.User)
	}
}

func TestLoadTemplateStripsFrontmatter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.prompt.md")

	content := "---\nmode: agent\ndescription: therapist\n---\nBe kind to the code."
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}

	tpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if tpl != "Be kind to the code." {
		t.Fatalf("frontmatter not stripped: %q", tpl)
	}
}

func TestLoadTemplateWithoutFrontmatter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.md")

	if err := os.WriteFile(path, []byte("Plain persona text.\n"), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}

	tpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if tpl != "Plain persona text." {
		t.Fatalf("unexpected template: %q", tpl)
	}
}

func TestLoadTemplateMissingFile(t *testing.T) {
	if _, err := LoadTemplate(filepath.Join(t.TempDir(), "nope.md")); err == nil {
		t.Fatalf("expected error for missing template file")
	}
}
