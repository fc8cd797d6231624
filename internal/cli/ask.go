package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"supportkb/internal/adapter/llm"
)

var (
	contextQuery string
	askQuery     string
	askShowCtx   bool
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the generation context for a query",
	Long: `Search the knowledge base and print the instruction block an answer
generator would receive: the matching passages with their sources, or a
notice that nothing was found.

Example:
  kb context -q "ブレーキパッド 交換"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.kb.Search(cmd.Context(), contextQuery)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		out, err := a.kb.BuildContext(results)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from the knowledge base",
	Long: `Retrieve context for a question and send it to an OpenAI-compatible chat
model. The API key is read from the environment variable named by
llm.api_key_env (OPENAI_API_KEY by default); a .env file in the working
directory is loaded first.

Example:
  kb ask -q "タイヤの空気圧の規定値は?"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gen, err := llm.NewOpenAIGenerator(GetConfig().LLM)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ans, err := a.kb.Ask(cmd.Context(), gen, askQuery)
		if err != nil {
			return err
		}

		if askShowCtx {
			fmt.Println(dimStyle.Render(ans.Context))
			fmt.Println()
		}
		fmt.Println(ans.Text)
		if len(ans.Chunks) > 0 {
			fmt.Println()
			fmt.Println(dimStyle.Render(fmt.Sprintf("%s, %d passages", ans.Model, len(ans.Chunks))))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contextCmd, askCmd)
	contextCmd.Flags().StringVarP(&contextQuery, "query", "q", "", "search query (required)")
	contextCmd.MarkFlagRequired("query")
	askCmd.Flags().StringVarP(&askQuery, "query", "q", "", "question (required)")
	askCmd.Flags().BoolVar(&askShowCtx, "show-context", false, "print the retrieved context before the answer")
	askCmd.MarkFlagRequired("query")
}
