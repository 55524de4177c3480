package usecase

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"policyrag/internal/domain"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

// PromptData is what the answer template renders.
type PromptData struct {
	Question string
	Chunks   []domain.ScoredEntry
	History  []domain.ConversationTurn
}

// PromptBuilder renders the system instruction and the answer prompt.
type PromptBuilder struct {
	system string
	answer *template.Template
}

func NewPromptBuilder() (*PromptBuilder, error) {
	system, err := promptTemplates.ReadFile("templates/system_prompt.txt")
	if err != nil {
		return nil, fmt.Errorf("template not found: %w", err)
	}
	content, err := promptTemplates.ReadFile("templates/answer_prompt.txt")
	if err != nil {
		return nil, fmt.Errorf("template not found: %w", err)
	}

	tmpl, err := template.New("answer").Funcs(templateFuncs()).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &PromptBuilder{
		system: strings.TrimSpace(string(system)),
		answer: tmpl,
	}, nil
}

// Build renders a prompt. Chunks are expected in relevance order and history
// oldest first.
func (b *PromptBuilder) Build(data PromptData) (domain.Prompt, error) {
	var buf bytes.Buffer
	if err := b.answer.Execute(&buf, data); err != nil {
		return domain.Prompt{}, fmt.Errorf("failed to render template: %w", err)
	}
	return domain.Prompt{System: b.system, User: buf.String()}, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatChunks": func(chunks []domain.ScoredEntry) string {
			var sb strings.Builder
			for i, c := range chunks {
				source := c.Entry.SourcePath
				if source == "" {
					source = c.Entry.DocumentID
				}
				sb.WriteString(fmt.Sprintf("[%d] %s (relevance %.2f)\n", i+1, source, c.Score))
				sb.WriteString(strings.TrimSpace(c.Entry.Text))
				sb.WriteString("\n\n")
			}
			return sb.String()
		},
		"formatHistory": func(turns []domain.ConversationTurn) string {
			var sb strings.Builder
			for _, t := range turns {
				sb.WriteString("User: ")
				sb.WriteString(t.Question)
				sb.WriteString("\nAssistant: ")
				sb.WriteString(t.Answer)
				sb.WriteString("\n")
			}
			return sb.String()
		},
	}
}
