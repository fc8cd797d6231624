package usecase

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"supportkb/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Assembler renders retrieved chunks into the instruction block handed to
// the generation step. It never reorders or filters its input.
type Assembler struct {
	tmpl *template.Template
}

type contextBlock struct {
	Source  string
	HasPage bool
	Page    int
	Text    string
}

func NewAssembler() (*Assembler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &Assembler{tmpl: tmpl}, nil
}

// BuildContext renders chunks in the order given. An empty slice renders the
// fixed notice that nothing relevant was found.
func (a *Assembler) BuildContext(chunks []domain.ScoredChunk) (string, error) {
	if len(chunks) == 0 {
		return a.render("empty", nil)
	}

	blocks := make([]contextBlock, len(chunks))
	for i, sc := range chunks {
		b := contextBlock{
			Source: sc.Chunk.Source,
			Text:   sc.Chunk.Text,
		}
		if sc.Chunk.Page != nil {
			b.HasPage = true
			b.Page = *sc.Chunk.Page
		}
		blocks[i] = b
	}
	return a.render("context", blocks)
}

// SystemPrompt wraps an assembled context in the assistant instructions.
func (a *Assembler) SystemPrompt(context string) (string, error) {
	return a.render("system", context)
}

func (a *Assembler) render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := a.tmpl.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return sb.String(), nil
}
