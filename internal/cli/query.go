package cli

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"supportkb/internal/domain"
)

var (
	queryText    string
	queryJSON    bool
	queryPreview int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the knowledge base",
	Long: `Search for chunks matching a query. A single keyword is scored by exact
match and repetition; several words are scored per word with a bonus for
the whole phrase.

Examples:
  kb query -q "警告灯"
  kb query -q "brake fluid" --json`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().IntVar(&queryPreview, "preview", 200, "characters of chunk text to show (0 for all)")
	queryCmd.MarkFlagRequired("query")
}

// queryResult is the JSON shape of one search hit.
type queryResult struct {
	DocID     string  `json:"doc_id"`
	Source    string  `json:"source"`
	Page      *int    `json:"page_or_slide,omitempty"`
	Sequence  int     `json:"sequence_number"`
	Important bool    `json:"important"`
	Score     float64 `json:"score"`
	Text      string  `json:"text"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.kb.Search(cmd.Context(), queryText)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		out := make([]queryResult, len(results))
		for i, r := range results {
			out[i] = queryResult{
				DocID:     r.DocID,
				Source:    r.Chunk.Source,
				Page:      r.Chunk.Page,
				Sequence:  r.Chunk.Sequence,
				Important: r.Chunk.Important,
				Score:     r.Score,
				Text:      r.Chunk.Text,
			}
		}
		return printJSON(out)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%d results for %q", len(results), queryText)))
	for i, r := range results {
		fmt.Println(renderResult(i+1, r))
	}
	return nil
}

func renderResult(rank int, r domain.ScoredChunk) string {
	title := sourceStyle.Render(r.Chunk.Source)
	if r.Chunk.Page != nil {
		title += dimStyle.Render(fmt.Sprintf(" p.%d", *r.Chunk.Page))
	}
	if r.Chunk.Important {
		title += " " + markStyle.Render("★")
	}

	header := fmt.Sprintf("%s %s  %s",
		dimStyle.Render(fmt.Sprintf("#%d", rank)),
		title,
		scoreStyle.Render(fmt.Sprintf("score %.0f", r.Score)))

	return resultStyle.Render(header + "\n" + preview(r.Chunk.Text, queryPreview))
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "…"
}
