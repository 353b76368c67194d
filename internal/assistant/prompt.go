package assistant

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

const promptTemplate = `You are Mahi AI, the assistant on Vetrivel Maheswaran's portfolio website.
Help visitors learn about Vetrivel's background, skills, projects, work experience and how to reach him.

Tone: professional, friendly and concise. Keep answers under 150 words unless asked for more.

Knowledge base:
%s

Rules:
- Answer only from the knowledge base. If something is not covered, say so and suggest the contact page.
- Never invent facts.
- Use **bold** and "• " bullet lines for lists. Do not emit HTML.
- Refer to pages by name: the About Page, the Projects Page, the Work Experience page, the Contact Page.`

const emptyKnowledge = "(no knowledge base loaded)"

// BuildSystemPrompt embeds knowledge into the assistant instructions.
func BuildSystemPrompt(knowledge string) string {
	knowledge = strings.TrimSpace(knowledge)
	if knowledge == "" {
		knowledge = emptyKnowledge
	}
	return fmt.Sprintf(promptTemplate, knowledge)
}

// LoadSystemPrompt reads the knowledge file at path. A missing file is not
// an error; the prompt is built without knowledge.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return BuildSystemPrompt(""), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Knowledge file not found, answering without it", "path", path)
		return BuildSystemPrompt(""), nil
	}
	if err != nil {
		return "", fmt.Errorf("read knowledge file: %w", err)
	}
	return BuildSystemPrompt(string(data)), nil
}
