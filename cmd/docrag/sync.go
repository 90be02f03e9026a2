package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/document"
	ghclient "github.com/bull/docrag/internal/github"
	"github.com/bull/docrag/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [DIR]",
	Short: "Ingest files as they are added to a directory",
	Long: `Watches a directory and uploads each supported file once it stops
changing. Files already in the directory are not uploaded. DIR defaults
to watch.dir from the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var importFlags struct {
	owner string
	repo  string
	path  string
	ref   string
	force bool
}

var importCmd = &cobra.Command{
	Use:   "import-github",
	Short: "Ingest the documents of a GitHub repository directory",
	Long: `Fetches every supported file under a repository directory and ingests
it as "owner/repo/path". Files already ingested under the same name are
skipped unless --force is set.

Environment variables:
  GITHUB_TOKEN  GitHub token for higher rate limits (optional)`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importFlags.owner, "owner", "", "repository owner")
	importCmd.Flags().StringVar(&importFlags.repo, "repo", "", "repository name")
	importCmd.Flags().StringVar(&importFlags.path, "path", "", "directory within the repository")
	importCmd.Flags().StringVar(&importFlags.ref, "ref", "", "branch, tag or commit (default branch if empty)")
	importCmd.Flags().BoolVar(&importFlags.force, "force", false, "re-ingest files that were already imported")
	_ = importCmd.MarkFlagRequired("owner")
	_ = importCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(watchCmd, importCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := a.Config.Watch.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return errors.New("no directory to watch: pass DIR or set watch.dir")
	}

	w := watcher.New(watcher.Config{
		Dir:      dir,
		Supports: a.Parsers.Supports,
		Settle:   time.Duration(a.Config.Watch.SettleMillis) * time.Millisecond,
		OnUpload: func(path string, doc *document.Document, err error) {
			if err != nil {
				fmt.Printf("Failed %s: %v\n", path, err)
				return
			}
			if doc.Status != document.StatusReady {
				fmt.Printf("Failed %s: %s\n", path, doc.Error)
				return
			}
			fmt.Printf("Ingested %s as %s (%d chunks)\n", path, doc.ID, doc.TotalChunks)
		},
	}, a.Pipeline, a.Logger)

	fmt.Printf("Watching %s for %v files (Ctrl-C to stop)\n", dir, a.Parsers.Extensions())
	return w.Run(cmd.Context())
}

func runImport(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := ghclient.NewClient(a.Config.GitHub.Token, a.Config.GitHub.BaseURL)
	if err != nil {
		return fmt.Errorf("create GitHub client: %w", err)
	}
	source := ghclient.Source{
		Owner: importFlags.owner,
		Repo:  importFlags.repo,
		Path:  importFlags.path,
		Ref:   importFlags.ref,
	}
	fetcher := ghclient.NewFetcher(client, source, a.Parsers.Supports)
	importer := ghclient.NewImporter(fetcher, a.Pipeline, a.Registry, a.Logger)

	fmt.Printf("Importing %s...\n", source)
	result, err := importer.Import(cmd.Context(), importFlags.force)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Import complete!")
	fmt.Printf("  Documents: %d/%d (%d skipped)\n", result.SuccessfulDocs, result.TotalDocs, result.SkippedDocs)
	fmt.Printf("  Chunks: %d\n", result.TotalChunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))

	if len(result.FailedDocs) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
		}
	}
	return nil
}
