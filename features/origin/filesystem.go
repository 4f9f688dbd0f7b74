package origin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ragbridge/internal/domain"
)

// FilesystemSource reads .txt, .md and .json files directly under a
// directory. File names are the origin ids; listings sort by name so
// pagination is stable.
type FilesystemSource struct {
	root string
}

func NewFilesystemSource(root string) *FilesystemSource {
	return &FilesystemSource{root: root}
}

func (s *FilesystemSource) Test(context.Context) TestResult {
	info, err := os.Stat(s.root)
	if err != nil {
		return TestResult{Status: "error", Message: err.Error()}
	}
	if !info.IsDir() {
		return TestResult{Status: "error", Message: fmt.Sprintf("%s is not a directory", s.root)}
	}
	return TestResult{Status: "connected", Message: fmt.Sprintf("directory %s reachable", s.root)}
}

func (s *FilesystemSource) ListDocuments(ctx context.Context, limit, skip int) ([]Document, error) {
	names, err := s.names()
	if err != nil {
		return nil, err
	}

	if skip >= len(names) {
		return []Document{}, nil
	}
	names = names[skip:]
	if limit > 0 && limit < len(names) {
		names = names[:limit]
	}

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		doc, err := s.GetDocument(ctx, name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (s *FilesystemSource) GetDocument(_ context.Context, originID string) (*Document, error) {
	// Reject path traversal; origin ids are plain file names
	if originID != filepath.Base(originID) {
		return nil, fmt.Errorf("%w: invalid origin id %q", domain.ErrValidation, originID)
	}

	raw, err := os.ReadFile(filepath.Join(s.root, originID)) // #nosec G304 -- originID restricted to a base name inside the configured root
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, originID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: filesystem: %v", domain.ErrAdapterUnavailable, err)
	}

	content := string(raw)
	return &Document{
		OriginID:       originID,
		SourceType:     TypeFilesystem,
		FileName:       originID,
		Content:        content,
		ContentPreview: preview(content),
	}, nil
}

func (s *FilesystemSource) names() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: filesystem: %v", domain.ErrAdapterUnavailable, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".txt", ".md", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
