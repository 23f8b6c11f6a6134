// Package ingest talks to the external ingestion service: it uploads images
// for detection and reads back per-machine results and global summaries.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	DefaultEndpoint       = "http://localhost:8080/api/upload"
	DefaultResultsBaseURL = "http://localhost:8080/api"
	defaultTimeout        = 60 * time.Second
	maxErrorBody          = 64 << 10
)

// UploadError is returned for a non-2xx response. Body is the response text,
// meant to be shown to the user as is.
type UploadError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UploadError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload failed: %s", e.Status)
	}
	return fmt.Sprintf("upload failed: %s: %s", e.Status, e.Body)
}

// Payload is one image to upload.
type Payload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Progress reports bytes of the request body written so far.
type Progress struct {
	Sent  int64
	Total int64
}

func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return int(p.Sent * 100 / p.Total)
}

type ProgressFunc func(Progress)

type Config struct {
	Endpoint       string
	ResultsBaseURL string
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

type Client struct {
	endpoint string
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
}

func New(cfg Config) *Client {
	c := &Client{
		endpoint: cfg.Endpoint,
		baseURL:  strings.TrimRight(cfg.ResultsBaseURL, "/"),
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.baseURL == "" {
		c.baseURL = DefaultResultsBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Upload posts p as multipart form data with fields "image" and
// "machine_id". onProgress may be nil.
func (c *Client) Upload(ctx context.Context, p Payload, machineID string, onProgress ProgressFunc) error {
	body, contentType, err := encodeForm(p, machineID)
	if err != nil {
		return err
	}
	total := int64(body.Len())

	var reader io.Reader = body
	if onProgress != nil {
		reader = &progressReader{r: body, total: total, fn: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, reader)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		uploadsTotal.WithLabelValues(resultError).Inc()
		c.logger.Warn("upload request failed", "machine_id", machineID, "file", p.Filename, "error", err)
		return fmt.Errorf("upload %s: %w", p.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		uploadsTotal.WithLabelValues(resultRejected).Inc()
		c.logger.Warn("upload rejected", "machine_id", machineID, "file", p.Filename, "status", resp.StatusCode)
		return &UploadError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(detail)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	uploadsTotal.WithLabelValues(resultOK).Inc()
	uploadBytes.Add(float64(len(p.Data)))
	uploadDuration.Observe(time.Since(start).Seconds())
	c.logger.Debug("upload complete", "machine_id", machineID, "file", p.Filename, "bytes", len(p.Data))
	return nil
}

func encodeForm(p Payload, machineID string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("machine_id", machineID); err != nil {
		return nil, "", fmt.Errorf("write machine_id field: %w", err)
	}

	name := p.Filename
	if name == "" {
		name = "image.jpg"
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(p.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(Progress{Sent: p.sent, Total: p.total})
	}
	return n, err
}
