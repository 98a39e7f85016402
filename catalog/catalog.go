// Package catalog holds the static item data the bot searches: an ordered
// list of item records and a map from item id to a direct image URL.
//
// Both collections are loaded once at startup and never mutated afterwards,
// so a Store or Index can be shared freely between goroutines.
//
//	items := catalog.LoadItems("itemData.json", logger)
//	images := catalog.LoadIndex("cdn.json", logger)
//	item, ok := items.Find("heal")
package catalog

import "strings"

// Item is one catalog entry. Field names match the source document.
type Item struct {
	ID           string `json:"itemID"`
	Description  string `json:"description"`
	Description2 string `json:"description2"`
	Icon         string `json:"icon"`
}

// Store is an immutable, ordered sequence of items.
type Store struct {
	items []Item
}

// NewStore wraps items. The slice is copied so later edits by the caller
// cannot leak into the store.
func NewStore(items []Item) *Store {
	cp := make([]Item, len(items))
	copy(cp, items)
	return &Store{items: cp}
}

// Len returns the number of items.
func (s *Store) Len() int { return len(s.items) }

// At returns the item at position i in file order.
func (s *Store) At(i int) Item { return s.items[i] }

// Find returns the first item, in file order, whose description or
// description2 contains the trimmed, lowercased query. First match wins even
// when a later item matches "better".
//
// An empty query never matches.
func (s *Store) Find(query string) (Item, bool) {
	q := Normalize(query)
	if q == "" {
		return Item{}, false
	}
	for _, it := range s.items {
		if strings.Contains(strings.ToLower(it.Description), q) ||
			strings.Contains(strings.ToLower(it.Description2), q) {
			return it, true
		}
	}
	return Item{}, false
}

// Normalize trims surrounding whitespace and lowercases a query.
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Index maps an item id to a direct image URL.
type Index struct {
	urls map[string]string
}

// NewIndex builds an index from the given pairs.
func NewIndex(urls map[string]string) *Index {
	cp := make(map[string]string, len(urls))
	for k, v := range urls {
		cp[k] = v
	}
	return &Index{urls: cp}
}

// Lookup returns the image URL for itemID.
func (x *Index) Lookup(itemID string) (string, bool) {
	u, ok := x.urls[itemID]
	return u, ok
}

// Len returns the number of indexed ids.
func (x *Index) Len() int { return len(x.urls) }
