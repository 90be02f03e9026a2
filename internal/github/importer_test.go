package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/indexer"
)

// fakeRepo serves a tiny contents API for owner/repo.
func fakeRepo(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	const prefix = "/repos/owner/repo/contents/"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		p := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		w.Header().Set("Content-Type", "application/json")

		if content, ok := files[p]; ok {
			json.NewEncoder(w).Encode(map[string]any{
				"type":     "file",
				"name":     p[strings.LastIndex(p, "/")+1:],
				"path":     p,
				"sha":      "sha-" + p,
				"encoding": "base64",
				"content":  base64.StdEncoding.EncodeToString([]byte(content)),
				"html_url": "https://github.com/owner/repo/blob/main/" + p,
			})
			return
		}

		var entries []map[string]any
		seen := map[string]bool{}
		for filePath := range files {
			if !strings.HasPrefix(filePath, p+"/") {
				continue
			}
			rest := strings.TrimPrefix(filePath, p+"/")
			name, _, isDir := strings.Cut(rest, "/")
			if seen[name] {
				continue
			}
			seen[name] = true
			kind := "file"
			if isDir {
				kind = "dir"
			}
			entries = append(entries, map[string]any{"type": kind, "name": name, "path": p + "/" + name})
		}
		if entries == nil {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(entries)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T, srv *httptest.Server) *Fetcher {
	t.Helper()
	client, err := NewClient("", srv.URL)
	require.NoError(t, err)
	return NewFetcher(client, Source{Owner: "owner", Repo: "repo", Path: "docs"}, func(name string) bool {
		return filepath.Ext(name) == ".md"
	})
}

var repoFiles = map[string]string{
	"docs/intro.md":          "# Intro\n\nWelcome.",
	"docs/logo.png":          "binary",
	"docs/guide/install.md":  "# Install\n\nRun it.",
	"docs/guide/deep/faq.md": "# FAQ\n\nQuestions.",
}

func TestFetcher_ListDocs(t *testing.T) {
	f := newTestFetcher(t, fakeRepo(t, repoFiles))

	docs, err := f.ListDocs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"intro.md", "guide/install.md", "guide/deep/faq.md"}, docs)
}

func TestFetcher_FetchDoc(t *testing.T) {
	f := newTestFetcher(t, fakeRepo(t, repoFiles))

	doc, err := f.FetchDoc(context.Background(), "guide/install.md")
	require.NoError(t, err)
	assert.Equal(t, "guide/install.md", doc.Path)
	assert.Equal(t, "# Install\n\nRun it.", string(doc.Content))
	assert.Equal(t, "sha-docs/guide/install.md", doc.SHA)

	_, err = f.FetchDoc(context.Background(), "missing.md")
	assert.Error(t, err)
}

type recordingUploader struct {
	names    []string
	contents []string
	fail     map[string]string
}

func (u *recordingUploader) UploadReader(_ context.Context, name string, r io.Reader, _ indexer.ProgressFunc) (*document.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	u.names = append(u.names, name)
	u.contents = append(u.contents, string(data))

	if reason, ok := u.fail[name]; ok {
		return &document.Document{Name: name, Status: document.StatusError, Error: reason}, nil
	}
	return &document.Document{Name: name, Status: document.StatusReady, TotalChunks: 2}, nil
}

type staticLister []document.Document

func (l staticLister) List() []document.Document { return l }

func TestImporter_Import(t *testing.T) {
	f := newTestFetcher(t, fakeRepo(t, repoFiles))
	uploader := &recordingUploader{fail: map[string]string{
		"owner/repo/docs/guide/deep/faq.md": "no extractable text",
	}}
	lister := staticLister{
		{Name: "owner/repo/docs/intro.md", Status: document.StatusReady},
	}

	imp := NewImporter(f, uploader, lister, nil)
	result, err := imp.Import(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalDocs)
	assert.Equal(t, 1, result.SkippedDocs)
	assert.Equal(t, 1, result.SuccessfulDocs)
	assert.Equal(t, 2, result.TotalChunks)
	require.Len(t, result.FailedDocs, 1)
	assert.Equal(t, FailedDoc{Path: "guide/deep/faq.md", Reason: "no extractable text"}, result.FailedDocs[0])

	assert.ElementsMatch(t, []string{"owner/repo/docs/guide/install.md", "owner/repo/docs/guide/deep/faq.md"}, uploader.names)
	assert.Contains(t, uploader.contents, "# Install\n\nRun it.")
}

func TestImporter_ForceReimports(t *testing.T) {
	f := newTestFetcher(t, fakeRepo(t, repoFiles))
	uploader := &recordingUploader{}
	lister := staticLister{
		{Name: "owner/repo/docs/intro.md", Status: document.StatusReady},
	}

	result, err := NewImporter(f, uploader, lister, nil).Import(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, result.SkippedDocs)
	assert.Equal(t, 3, result.SuccessfulDocs)
}

func TestImporter_ListFailure(t *testing.T) {
	f := newTestFetcher(t, fakeRepo(t, map[string]string{"other/readme.md": "x"}))

	_, err := NewImporter(f, &recordingUploader{}, nil, nil).Import(context.Background(), false)
	assert.Error(t, err)
}
