package usecase

import (
	"context"
	"fmt"

	"supportkb/internal/domain"
	"supportkb/internal/port"
)

// Search returns the ranked chunks for query.
func (kb *KnowledgeBase) Search(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	return kb.retriever.Search(ctx, query)
}

// BuildContext renders chunks into the generation instructions.
func (kb *KnowledgeBase) BuildContext(chunks []domain.ScoredChunk) (string, error) {
	return kb.assembler.BuildContext(chunks)
}

// Answer is the outcome of Ask.
type Answer struct {
	Text    string
	Context string
	Chunks  []domain.ScoredChunk
	Model   string
}

// Ask retrieves context for question and passes it to the generator.
func (kb *KnowledgeBase) Ask(ctx context.Context, gen port.Generator, question string) (*Answer, error) {
	chunks, err := kb.Search(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	block, err := kb.BuildContext(chunks)
	if err != nil {
		return nil, err
	}
	system, err := kb.assembler.SystemPrompt(block)
	if err != nil {
		return nil, err
	}

	kb.logger.Debug("generating answer", "model", gen.ModelName(), "chunks", len(chunks))

	text, err := gen.Generate(ctx, system, question)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	return &Answer{
		Text:    text,
		Context: block,
		Chunks:  chunks,
		Model:   gen.ModelName(),
	}, nil
}
