package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrRateLimited indicates the primary PDF provider rejected the request for
// quota reasons; callers fall back to local extraction.
var ErrRateLimited = errors.New("pdf parser rate limited")

// ErrParseTimeout indicates the provider never finished the parse job within
// the polling window.
var ErrParseTimeout = errors.New("pdf parse job timed out")

// PDFParser converts raw PDF bytes to markdown.
type PDFParser interface {
	Parse(ctx context.Context, content []byte) (string, error)
}

const (
	pdfPollInterval = 3 * time.Second
	pdfMaxPolls     = 10
)

// PollClient is the primary PDF parser: an asynchronous upload-and-poll API.
// Submit the document, poll job status every 3 seconds up to 10 times, then
// fetch the markdown result.
type PollClient struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger
}

// NewPollClient creates a client for the upload+poll parsing API.
func NewPollClient(baseURL, apiKey string, logger *slog.Logger) *PollClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: pdfPollInterval,
		maxPolls:     pdfMaxPolls,
		logger:       logger,
	}
}

type pdfJob struct {
	ID       string `json:"id"`
	Status   string `json:"status"` // pending | success | error
	Markdown string `json:"markdown"`
	Error    string `json:"error"`
}

// Parse implements PDFParser via submit → poll → fetch.
func (p *PollClient) Parse(ctx context.Context, content []byte) (string, error) {
	job, err := p.submit(ctx, content)
	if err != nil {
		return "", err
	}

	for i := 0; i < p.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.pollInterval):
		}

		job, err = p.poll(ctx, job.ID)
		if err != nil {
			return "", err
		}
		switch job.Status {
		case "success":
			return job.Markdown, nil
		case "error":
			return "", fmt.Errorf("pdf parse job failed: %s", job.Error)
		}
	}

	return "", fmt.Errorf("%w after %d polls", ErrParseTimeout, p.maxPolls)
}

func (p *PollClient) submit(ctx context.Context, content []byte) (*pdfJob, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "document.pdf")
	if err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("writing upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/parse", &buf)
	if err != nil {
		return nil, fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.do(req)
}

func (p *PollClient) poll(ctx context.Context, jobID string) (*pdfJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/parse/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("building poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.do(req)
}

func (p *PollClient) do(req *http.Request) (*pdfJob, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdf parser request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("pdf parser returned %d: %s", resp.StatusCode, body)
	}

	var job pdfJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decoding pdf parser response: %w", err)
	}
	return &job, nil
}

// FallbackParser tries the primary parser and falls back to the secondary
// only when the primary reports rate limiting. Other primary failures
// propagate: a corrupt PDF will not parse better locally.
type FallbackParser struct {
	primary   PDFParser
	secondary PDFParser
	logger    *slog.Logger
}

// NewFallbackParser combines a primary and secondary PDF parser.
func NewFallbackParser(primary, secondary PDFParser, logger *slog.Logger) *FallbackParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackParser{primary: primary, secondary: secondary, logger: logger}
}

// Parse implements PDFParser.
func (f *FallbackParser) Parse(ctx context.Context, content []byte) (string, error) {
	md, err := f.primary.Parse(ctx, content)
	if err == nil {
		return md, nil
	}
	if !errors.Is(err, ErrRateLimited) {
		return "", err
	}

	f.logger.Info("primary pdf parser rate limited, using local fallback")
	return f.secondary.Parse(ctx, content)
}
