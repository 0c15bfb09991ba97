// Package fetcher downloads filing documents over HTTP with per-host rate
// limiting and retry.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote documents.
type Fetcher interface {
	// Download fetches the URL. The caller closes Body.
	Download(ctx context.Context, url string) (*Response, error)
}

// Response is a successful download.
type Response struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	URL           string
}
