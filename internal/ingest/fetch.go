// Package ingest turns due sources into embedded evidence chunks.
//
// The pipeline per source: fetch (HTML or PDF) → section → chunk → embed →
// upsert, with status transitions recorded on the source. Batch runs are
// stateless; claim semantics in the source store keep concurrent runs from
// double-processing.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// UserAgent identifies the crawler to origin servers.
const UserAgent = "leafcheck-ingest/1.0 (agronomy evidence pipeline; +https://leafcheck.app/crawler)"

// maxBodyBytes bounds a single fetched document.
const maxBodyBytes = 20 << 20 // 20 MiB

// Document is one fetched source payload.
//
// Empty is set when the origin refused the request in a way that should not
// penalize the source (403/406/429): the source stays eligible for the next
// freshness cycle instead of entering an error state.
type Document struct {
	URL         string
	ContentType string
	Body        []byte
	Empty       bool
}

// IsPDF reports whether the payload is a PDF.
func (d *Document) IsPDF() bool {
	return strings.Contains(d.ContentType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(d.URL), ".pdf")
}

// Fetcher retrieves source documents over HTTP with a hard wall-clock
// timeout. There is no mid-flight cancellation beyond the context: a fetch
// completes, times out, or errors.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewFetcher creates a fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// Fetch retrieves one URL.
//
// HTTP 403, 406 and 429 yield an Empty document with a nil error: sites that
// block bots should not pin the source in an error state, they are simply
// retried on the next freshness cycle.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Document, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("building request for %q: %w", url, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetching %q: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusNotAcceptable, http.StatusTooManyRequests:
		f.logger.Debug("origin refused fetch, treating as empty document",
			"url", url, "status", resp.StatusCode)
		return Document{URL: url, Empty: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Document{}, fmt.Errorf("fetching %q: unexpected status %d", url, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, fmt.Errorf("reading body of %q: %w", url, err)
	}

	return Document{URL: url, ContentType: contentType, Body: body}, nil
}
