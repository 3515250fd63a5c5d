package prompt

import (
	"fmt"
	"os"
	"strings"
)

// SystemInstructions is the fixed system message sent with every request.
const SystemInstructions = "You are a compassionate code therapist."

// FallbackTemplate is used when no persona template file is configured or
// the configured file cannot be read.
const FallbackTemplate = `You are a compassionate but slightly dramatic therapist. Your client is a piece of code. Respond to the code as if it were a person in therapy. Be insightful, humorous, and supportive.`

// Prompt is a complete upstream prompt: fixed persona instructions plus the
// user's code snippet. Immutable once built.
type Prompt struct {
	System string
	User   string
}

// Builder turns a raw user message into a Prompt. It is pure: the same
// message always yields the same Prompt.
type Builder struct {
	template string
}

// NewBuilder creates a Builder around a persona template. An empty template
// selects FallbackTemplate.
func NewBuilder(template string) *Builder {
	template = strings.TrimSpace(template)
	if template == "" {
		template = FallbackTemplate
	}
	return &Builder{template: template}
}

// Build produces the Prompt for one user message. The message is embedded
// verbatim; callers are responsible for rejecting empty input beforehand.
func (b *Builder) Build(userMessage string) Prompt {
	return Prompt{
		System: SystemInstructions,
		User:   b.template + "\n\nClient code:\n" + userMessage,
	}
}

// LoadTemplate reads a persona template from a Markdown file, stripping a
// leading YAML frontmatter block if one is present.
func LoadTemplate(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}

	content := string(raw)
	if strings.HasPrefix(content, "---") {
		parts := strings.SplitN(content, "---", 3)
		if len(parts) >= 3 {
			content = parts[2]
		}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("prompt template %s is empty", path)
	}
	return content, nil
}
