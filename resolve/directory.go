package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/itembot/catalog"
	"github.com/hazyhaar/itembot/horosafe"
)

// maxListingBody caps the listing response read from the remote directory.
const maxListingBody int64 = 4 << 20

// DirectoryEntry is one file descriptor in the remote listing. Only the two
// fields the resolver needs are decoded; everything else is ignored.
type DirectoryEntry struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
}

// Directory resolves an item's icon against a remote file-directory listing
// (a GitHub contents endpoint or anything returning the same JSON shape).
// Every call re-fetches the listing.
type Directory struct {
	url    string
	client *http.Client
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithTimeout bounds each listing request. Default: 10s.
func WithTimeout(d time.Duration) DirectoryOption {
	return func(r *Directory) {
		if d > 0 {
			r.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) DirectoryOption {
	return func(r *Directory) { r.client = c }
}

// NewDirectory returns a resolver that lists url on every miss.
func NewDirectory(url string, opts ...DirectoryOption) *Directory {
	d := &Directory{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Directory) Name() string { return "directory" }

// TryResolve fetches the listing and returns the download URL of the first
// entry whose name contains the item's icon.
func (d *Directory) TryResolve(ctx context.Context, item catalog.Item) (string, error) {
	if item.Icon == "" {
		return "", ErrNoImage
	}
	entries, err := d.List(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.DownloadURL != "" && strings.Contains(e.Name, item.Icon) {
			return e.DownloadURL, nil
		}
	}
	return "", ErrNoImage
}

// List performs one listing request.
func (d *Directory) List(ctx context.Context) ([]DirectoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve/directory: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve/directory: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("resolve/directory: status %d", resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, maxListingBody)
	if err != nil {
		return nil, fmt.Errorf("resolve/directory: read response: %w", err)
	}

	var entries []DirectoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("resolve/directory: decode listing: %w", err)
	}
	return entries, nil
}
