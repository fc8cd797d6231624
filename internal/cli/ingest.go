package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"supportkb/internal/adapter/extract"
	"supportkb/internal/domain"
	"supportkb/internal/usecase"
)

var (
	ingestTextFile string
	ingestTitle    string
	ingestType     string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Chunk and store documents",
	Long: `Ingest a document, or every supported document in a directory, into the
knowledge base. Text files are read directly. For PDF, Word, Excel and
presentation files pass the text extracted by an external converter with
--text-file; form feeds in that file mark page breaks.

Examples:
  kb ingest knowledge/brakes.txt
  kb ingest manuals/
  kb ingest knowledge/engine.pdf --text-file /tmp/engine.txt --title "エンジン整備書"`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestTextFile, "text-file", "", "pre-extracted UTF-8 text for the document")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (default is the file name)")
	ingestCmd.Flags().StringVar(&ingestType, "type", "", "document type: pdf, word, excel, presentation, text")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if info.IsDir() {
		if ingestTextFile != "" || ingestTitle != "" {
			return fmt.Errorf("--text-file and --title apply to a single file")
		}
		return ingestDir(cmd, a, path)
	}

	req := usecase.IngestRequest{
		Path:  path,
		Title: ingestTitle,
		Type:  domain.DocType(ingestType),
	}
	if ingestTextFile != "" {
		sections, err := readTextFile(ingestTextFile)
		if err != nil {
			return err
		}
		req.Sections = sections
		req.Extra = map[string]string{"text_file": filepath.Base(ingestTextFile)}
	}

	res, err := a.kb.Ingest(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	verb := "Added"
	if res.Replaced {
		verb = "Updated"
	}
	fmt.Printf("%s %s (%s, %d chunks)\n", verb, res.Record.ID, res.Record.Title, res.Record.ChunkCount)
	return nil
}

func ingestDir(cmd *cobra.Command, a *app, dir string) error {
	fmt.Printf("Scanning %s...\n", dir)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
	var barMu sync.Mutex

	res, err := a.kb.IngestDir(cmd.Context(), dir, func(path string, err error) {
		barMu.Lock()
		defer barMu.Unlock()
		bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] %s", filepath.Base(path)))
		bar.Add(1)
	})
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d files, skipped %d\n", res.Ingested, res.Skipped)
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d files failed", len(res.Errors))
	}
	return nil
}

func readTextFile(path string) ([]domain.Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", domain.ErrUnsupportedFormat, path)
	}
	return extract.Pages(string(data)), nil
}
