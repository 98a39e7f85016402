package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// ReadItems decodes an items document: a JSON array of item objects.
func ReadItems(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read items: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("catalog: decode items %s: %w", path, err)
	}
	return items, nil
}

// ReadIndex decodes an images document: a JSON array of single-key objects
// mapping an item id to a URL, e.g. [{"101": "https://cdn/101.png"}].
// When an id appears more than once the first occurrence is kept.
func ReadIndex(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read images: %w", err)
	}
	var entries []map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("catalog: decode images %s: %w", path, err)
	}
	urls := make(map[string]string, len(entries))
	for _, e := range entries {
		for id, u := range e {
			if _, seen := urls[id]; !seen {
				urls[id] = u
			}
		}
	}
	return urls, nil
}

// LoadItems reads the items document at path. A missing or malformed file
// yields an empty store and a warning; it never fails startup.
func LoadItems(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	items, err := ReadItems(path)
	if err != nil {
		logger.Warn("catalog: items unavailable, starting empty", "path", path, "error", err)
		return NewStore(nil)
	}
	logger.Info("catalog: items loaded", "path", path, "count", len(items))
	return NewStore(items)
}

// LoadIndex reads the images document at path with the same degradation
// rules as LoadItems.
func LoadIndex(path string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	urls, err := ReadIndex(path)
	if err != nil {
		logger.Warn("catalog: images unavailable, starting empty", "path", path, "error", err)
		return NewIndex(nil)
	}
	logger.Info("catalog: images loaded", "path", path, "count", len(urls))
	return NewIndex(urls)
}
