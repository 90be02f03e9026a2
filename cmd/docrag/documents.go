package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/indexer"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Ingest documents",
	Long: `Stores each file, extracts its text, chunks and embeds it.

Supported formats: .pdf, .txt, .md and .markdown.
A failed file is reported and the remaining files are still ingested.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a document record",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var contentCmd = &cobra.Command{
	Use:   "content ID",
	Short: "Print a document's text rebuilt from its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runContent,
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete documents with their chunks and stored files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document and chunk counts",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every document",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var clearYes bool

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deleting every document")
	rootCmd.AddCommand(uploadCmd, listCmd, showCmd, contentCmd, deleteCmd, statsCmd, clearCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	failed := 0
	for _, path := range args {
		start := time.Now()
		fmt.Printf("Uploading %s...\n", path)

		doc, err := a.Pipeline.Upload(cmd.Context(), path, func(percent int, message string) {
			fmt.Printf("  [%3d%%] %s\n", percent, message)
		})
		if err != nil {
			failed++
			fmt.Printf("  Failed: %v\n", err)
			continue
		}
		if doc.Status != document.StatusReady {
			failed++
			fmt.Printf("  Failed: %s (document %s)\n", doc.Error, doc.ID)
			continue
		}
		fmt.Printf("  Ready: %s (%d pages, %d chunks) in %s\n",
			doc.ID, doc.TotalPages, doc.TotalChunks, time.Since(start).Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	docs := a.Registry.List()
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPAGES\tCHUNKS\tUPDATED")
	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			doc.ID, doc.Name, doc.Status, doc.TotalPages, doc.TotalChunks, doc.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Registry.Get(args[0])
	if err != nil {
		return err
	}
	printDocument(doc)
	return nil
}

func printDocument(doc document.Document) {
	fmt.Printf("ID:       %s\n", doc.ID)
	fmt.Printf("Name:     %s\n", doc.Name)
	fmt.Printf("Status:   %s\n", doc.Status)
	if doc.Error != "" {
		fmt.Printf("Error:    %s\n", doc.Error)
	}
	fmt.Printf("Pages:    %d\n", doc.TotalPages)
	fmt.Printf("Chunks:   %d\n", doc.TotalChunks)
	fmt.Printf("Size:     %d bytes\n", doc.FileSize)
	fmt.Printf("Created:  %s\n", doc.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated:  %s\n", doc.UpdatedAt.Local().Format(time.DateTime))
	if doc.Summary != "" {
		fmt.Printf("\n%s\n", doc.Summary)
	}
	if len(doc.Entities) > 0 {
		fmt.Printf("\nEntities: %v\n", doc.Entities)
	}
	if len(doc.Outline) > 0 {
		fmt.Println("\nOutline:")
		for _, heading := range doc.Outline {
			fmt.Printf("  %s\n", heading)
		}
	}
}

func runContent(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	content, err := a.Registry.Content(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(content.Content)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var errs []error
	for _, id := range args {
		if err := a.Pipeline.Delete(cmd.Context(), id); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Printf("Deleted %s\n", id)
	}
	return errors.Join(errs...)
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Registry.Stats(cmd.Context())
	if err != nil {
		return err
	}
	info := a.Embeddings.Info()

	fmt.Printf("Documents:  %d (%d ready, %d processing, %d failed)\n",
		stats.TotalDocuments, stats.ReadyDocuments, stats.ProcessingDocuments, stats.ErrorDocuments)
	fmt.Printf("Chunks:     %d\n", stats.TotalChunks)
	fmt.Printf("Storage:    %s (%s)\n", a.Config.Storage.Backend, a.Config.DataDir)
	fmt.Printf("Embedding:  %s (%s)\n", info.Name, info.State)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	if !clearYes {
		return errors.New("refusing to delete every document without --yes")
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	docs := a.Registry.List()
	for _, doc := range docs {
		if err := a.Pipeline.Delete(cmd.Context(), doc.ID); err != nil && !errors.Is(err, indexer.ErrNotFound) {
			return err
		}
	}
	if err := a.Index.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	fmt.Printf("Deleted %d documents\n", len(docs))
	return nil
}
