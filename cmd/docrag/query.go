package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var queryFlags struct {
	documents []string
	topK      int
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION...",
	Short: "Answer a question from the ingested documents",
	Long: `Retrieves the chunks most similar to the question and asks the
generation model to answer from them. Requires a generation provider,
for example OPENAI_API_KEY.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Print the chunks most similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	for _, cmd := range []*cobra.Command{askCmd, searchCmd} {
		cmd.Flags().StringSliceVarP(&queryFlags.documents, "document", "d", nil, "restrict to these document IDs")
		cmd.Flags().IntVarP(&queryFlags.topK, "top-k", "k", 0, "number of chunks to retrieve (default from configuration)")
	}
	rootCmd.AddCommand(askCmd, searchCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	topK := queryFlags.topK
	if topK <= 0 {
		topK = a.Config.Generation.TopK
	}

	answer, err := a.Orchestrator.Answer(cmd.Context(), strings.Join(args, " "), queryFlags.documents, topK)
	if err != nil {
		return err
	}

	fmt.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, src := range answer.Sources {
			fmt.Printf("  [%d] %s, page %d (%.2f)\n      %s\n", i+1, src.DocumentName, src.Page, src.Similarity, src.Content)
		}
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	topK := queryFlags.topK
	if topK <= 0 {
		topK = a.Config.Generation.TopK
	}

	results, err := a.Orchestrator.Search(cmd.Context(), strings.Join(args, " "), queryFlags.documents, topK)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matching chunks.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. %s, page %d, chunk %d (%.3f)\n",
			i+1, r.Chunk.DocumentName, r.Chunk.Metadata.Page, r.Chunk.Metadata.ChunkIndex, r.Similarity)
		fmt.Printf("   %s\n\n", strings.ReplaceAll(strings.TrimSpace(r.Chunk.Content), "\n", "\n   "))
	}
	return nil
}
