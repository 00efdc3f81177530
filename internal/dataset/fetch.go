package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher retrieves the raw payload for a named dataset.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
	Source() string
}

// FileName returns the static file name a dataset is published under.
func FileName(name string) string {
	return name + ".json"
}

// ValidateName rejects names that could escape the dataset root.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("dataset name is empty")
	}
	if strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid dataset name %q", name)
	}
	return nil
}

// HTTPFetcher reads datasets from a static endpoint: <BaseURL>/<name>.json.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the given base URL.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{BaseURL: strings.TrimRight(baseURL, "/"), Client: http.DefaultClient}
}

// Source returns the base URL.
func (f *HTTPFetcher) Source() string {
	return f.BaseURL
}

// Fetch issues a single GET for the dataset.
func (f *HTTPFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	u := f.BaseURL + "/" + url.PathEscape(FileName(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// DirFetcher reads datasets from a local directory: <Dir>/<name>.json.
type DirFetcher struct {
	Dir string
}

// NewDirFetcher creates a fetcher rooted at dir.
func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{Dir: dir}
}

// Source returns the directory.
func (f *DirFetcher) Source() string {
	return f.Dir
}

// Fetch reads the dataset file.
func (f *DirFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(f.Dir, FileName(name)))
}

// Chain tries each fetcher in order and returns the first payload.
type Chain []Fetcher

// Source lists the chained sources.
func (c Chain) Source() string {
	srcs := make([]string, len(c))
	for i, f := range c {
		srcs[i] = f.Source()
	}
	return strings.Join(srcs, ",")
}

// Fetch returns the first successful fetch, or every failure joined.
func (c Chain) Fetch(ctx context.Context, name string) ([]byte, error) {
	var errs []error
	for _, f := range c {
		data, err := f.Fetch(ctx, name)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", f.Source(), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no fetcher configured for %q", name)
	}
	return nil, errors.Join(errs...)
}
