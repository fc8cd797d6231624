package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"supportkb/config"
	"supportkb/internal/domain"
)

// Rule marks spans matching Pattern as important. Each match is widened by
// Pad characters on both sides before it becomes a chunk.
type Rule struct {
	Pattern *regexp.Regexp
	Pad     int
}

// CompileRules compiles configured important-span rules.
func CompileRules(rules []config.ImportantRule) ([]Rule, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: important rule %d: %v", domain.ErrInvalidConfig, i, err)
		}
		if r.Pad < 0 {
			return nil, fmt.Errorf("%w: important rule %d has negative pad", domain.ErrInvalidConfig, i)
		}
		compiled = append(compiled, Rule{Pattern: re, Pad: r.Pad})
	}
	return compiled, nil
}

// WindowChunker splits text into overlapping fixed-size character windows,
// preceded by standalone chunks for every important-rule match.
// Sizes are counted in runes.
type WindowChunker struct {
	size    int
	overlap int
	rules   []Rule
}

func NewWindowChunker(size, overlap int, rules []Rule) (*WindowChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", domain.ErrInvalidConfig, overlap, size)
	}
	return &WindowChunker{
		size:    size,
		overlap: overlap,
		rules:   rules,
	}, nil
}

func (c *WindowChunker) Chunk(text, source string) ([]domain.Chunk, error) {
	return c.ChunkSections([]domain.Section{{Text: text}}, source)
}

// ChunkSections chunks every section of one document. Important chunks of all
// sections come first, then the sequential windows, under one sequence counter.
func (c *WindowChunker) ChunkSections(sections []domain.Section, source string) ([]domain.Chunk, error) {
	var important, sequential []domain.Chunk

	for _, sec := range sections {
		if !utf8.ValidString(sec.Text) {
			return nil, fmt.Errorf("%w: %s contains invalid UTF-8", domain.ErrUnsupportedFormat, source)
		}
		runes := []rune(sec.Text)
		if len(runes) == 0 {
			continue
		}
		important = append(important, c.importantSpans(sec.Text, runes, source, sec.Page)...)
		sequential = append(sequential, c.windows(runes, source, sec.Page)...)
	}

	chunks := make([]domain.Chunk, 0, len(important)+len(sequential))
	chunks = append(chunks, important...)
	chunks = append(chunks, sequential...)
	for i := range chunks {
		chunks[i].Sequence = i
	}
	return chunks, nil
}

func (c *WindowChunker) importantSpans(text string, runes []rune, source string, page *int) []domain.Chunk {
	var chunks []domain.Chunk
	for _, rule := range c.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			start := utf8.RuneCountInString(text[:loc[0]]) - rule.Pad
			end := utf8.RuneCountInString(text[:loc[1]]) + rule.Pad
			if start < 0 {
				start = 0
			}
			if end > len(runes) {
				end = len(runes)
			}

			span := strings.TrimSpace(string(runes[start:end]))
			if span == "" {
				continue
			}
			chunks = append(chunks, domain.Chunk{
				Text:      span,
				Source:    source,
				Page:      copyPage(page),
				Important: true,
			})
		}
	}
	return chunks
}

func (c *WindowChunker) windows(runes []rune, source string, page *int) []domain.Chunk {
	var chunks []domain.Chunk
	step := c.size - c.overlap

	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}

		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, domain.Chunk{
				Text:   text,
				Source: source,
				Page:   copyPage(page),
			})
		}

		if end == len(runes) {
			break
		}
	}
	return chunks
}

func copyPage(page *int) *int {
	if page == nil {
		return nil
	}
	p := *page
	return &p
}
