package cli

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"supportkb/internal/domain"
)

var listJSON bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Register untracked files under the knowledge root",
	Long: `Scan the knowledge root and its immediate subdirectories for supported
files the manifest does not know about and register them. New documents are
chunked on the first query that touches them (or by 'kb warm').`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records, added, err := a.kb.Reconcile()
		if err != nil {
			return err
		}
		fmt.Printf("Registered %d new documents (%d total)\n", added, len(records))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in the manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.kb.List()
		if err != nil {
			return err
		}
		if listJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("No documents. Use 'kb ingest' or 'kb reconcile'.")
			return nil
		}

		byType := lo.CountValuesBy(records, func(r domain.DocumentRecord) domain.DocType { return r.Type })
		for _, r := range records {
			fmt.Printf("%s  %-12s %5d  %s  %s\n",
				r.ID, r.Type, r.ChunkCount, r.AddedAt.Local().Format("2006-01-02 15:04"), r.Title)
		}

		summary := lo.Map(lo.Keys(byType), func(t domain.DocType, _ int) string {
			return fmt.Sprintf("%s=%d", t, byType[t])
		})
		fmt.Printf("\n%d documents, %d chunks (%s)\n",
			len(records),
			lo.SumBy(records, func(r domain.DocumentRecord) int { return r.ChunkCount }),
			strings.Join(sortStrings(summary), " "))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a document and its stored chunks",
	Long: `Remove a document from the manifest, delete its stored chunks, and delete
its source file when that file lives under the knowledge root.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.kb.Remove(args[0])
		if err != nil {
			return err
		}
		if !res.Removed {
			fmt.Printf("No document with id %s\n", args[0])
			return nil
		}
		fmt.Printf("Removed %s (%s)\n", res.Record.ID, res.Record.Title)
		for _, w := range res.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd, listCmd, removeCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}
