package library

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/rs/zerolog/log"
)

// SearchResult is one hit of a library search.
type SearchResult struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// searchIndex is an in-memory full-text index over the library content.
// Documents are keyed by library path.
type searchIndex struct {
	root string

	mu    sync.Mutex
	index bleve.Index
}

func newSearchIndex(root string) (*searchIndex, error) {
	indexMapping := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	docMapping.AddFieldMappingsAt("path", pathField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	docMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	s := &searchIndex{root: root, index: index}
	if err := s.reindexAll(); err != nil {
		index.Close()
		return nil, err
	}
	return s, nil
}

func (s *searchIndex) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

func (s *searchIndex) reindexAll() error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		s.update(path)
		return nil
	})
}

// update refreshes the document for one filesystem path, removing it when
// the file is gone.
func (s *searchIndex) update(fullPath string) {
	rel, err := filepath.Rel(s.root, fullPath)
	if err != nil {
		return
	}
	item := "/" + filepath.ToSlash(rel)

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		if removeErr := s.index.Delete(item); removeErr != nil {
			log.Warn().Err(removeErr).Str("item", item).Msg("Library index delete failed")
		}
		return
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		// Binary content; not searchable.
		return
	}

	doc := map[string]any{
		"path": item,
		"text": string(raw),
	}
	if err := s.index.Index(item, doc); err != nil {
		log.Warn().Err(err).Str("item", item).Msg("Library index update failed")
	}
}

// Search returns the best-matching library items for a full-text query.
func (s *Service) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	req.Fields = []string{"path"}

	s.index.mu.Lock()
	res, err := s.index.index.Search(req)
	s.index.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("library search: %w", err)
	}

	results := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := SearchResult{Score: hit.Score}
		if path, ok := hit.Fields["path"].(string); ok {
			r.Path = path
		} else {
			r.Path = hit.ID
		}
		results = append(results, r)
	}
	return results, nil
}
