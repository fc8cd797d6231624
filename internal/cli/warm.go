package cli

import (
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"supportkb/internal/adapter/retriever"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Chunk every document that has no stored chunks",
	Long: `Load every manifest document the way a query would, rebuilding missing or
corrupt chunk files from their sources. Run after 'kb reconcile' so the
first query does not pay for chunking.`,
	Args: cobra.NoArgs,
	RunE: runWarm,
}

func init() {
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.kb.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No documents.")
		return nil
	}

	bar := progressbar.NewOptions(len(records),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]Loading[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	var (
		mu     sync.Mutex
		chunks int
		failed []retriever.WarmResult
	)
	err = a.engine.Warm(cmd.Context(), func(r retriever.WarmResult) {
		mu.Lock()
		defer mu.Unlock()
		chunks += r.Chunks
		if r.Err != nil {
			failed = append(failed, r)
		}
		bar.Add(1)
	})
	if err != nil {
		return err
	}

	fmt.Printf("%d documents, %d chunks\n", len(records)-len(failed), chunks)
	for _, r := range failed {
		fmt.Printf("  skipped %s (%s): %v\n", r.Record.ID, r.Record.Title, r.Err)
	}
	return nil
}
