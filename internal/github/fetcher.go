package github

import (
	"context"
	"fmt"
	"path"

	"github.com/google/go-github/v81/github"
)

// Source identifies a directory in a repository.
type Source struct {
	Owner string
	Repo  string
	Path  string // Directory to import, "" for the repository root
	Ref   string // Branch, tag or commit; "" for the default branch
}

func (s Source) String() string {
	return path.Join(s.Owner, s.Repo, s.Path)
}

// FetchedDoc is one file downloaded from the repository.
type FetchedDoc struct {
	Path    string // Relative to Source.Path
	Content []byte
	SHA     string // Git blob SHA
	URL     string // Web URL of the file
}

// Fetcher lists and downloads files from a repository directory.
type Fetcher struct {
	client  *Client
	source  Source
	include func(name string) bool
}

// NewFetcher creates a fetcher for source. Only files for which include
// returns true are listed; a nil include lists every file.
func NewFetcher(client *Client, source Source, include func(name string) bool) *Fetcher {
	if include == nil {
		include = func(string) bool { return true }
	}
	return &Fetcher{client: client, source: source, include: include}
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.source.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.source.Ref}
}

// ListDocs recursively lists matching files below the source directory,
// as paths relative to it.
func (f *Fetcher) ListDocs(ctx context.Context) ([]string, error) {
	return f.listDocsRecursive(ctx, f.source.Path, "")
}

func (f *Fetcher) listDocsRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	_, dirContents, _, err := f.client.Repositories.GetContents(
		ctx, f.source.Owner, f.source.Repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	var docs []string
	for _, item := range dirContents {
		name := item.GetName()
		if name == "" {
			continue
		}
		itemRelPath := path.Join(relativePath, name)

		switch item.GetType() {
		case "file":
			if f.include(name) {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := f.listDocsRecursive(ctx, path.Join(fullPath, name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}
	return docs, nil
}

// FetchDoc downloads one file listed by ListDocs.
func (f *Fetcher) FetchDoc(ctx context.Context, relativePath string) (*FetchedDoc, error) {
	fullPath := path.Join(f.source.Path, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(
		ctx, f.source.Owner, f.source.Repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("%s is not a file", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	return &FetchedDoc{
		Path:    relativePath,
		Content: []byte(content),
		SHA:     fileContent.GetSHA(),
		URL:     fileContent.GetHTMLURL(),
	}, nil
}
