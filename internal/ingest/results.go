package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ResultRecord is one image as reported by the results listing endpoint.
type ResultRecord struct {
	ID                string          `json:"id"`
	MachineID         string          `json:"machine_id"`
	Filename          string          `json:"filename"`
	ThumbnailFilename *string         `json:"thumbnail_filename"`
	Status            string          `json:"status"`
	DetectionData     json.RawMessage `json:"detection_data"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Summary is the aggregate returned by the summary endpoint.
type Summary struct {
	Detected        int            `json:"detected"`
	Pending         int            `json:"pending"`
	Fail            int            `json:"fail"`
	TotalImages     int            `json:"total_images"`
	TotalParticles  int            `json:"total_particles"`
	ParticleByClass map[string]int `json:"particle_by_class"`
}

// StatusCounts tallies records by status.
func StatusCounts(records []ResultRecord) map[string]int {
	counts := map[string]int{"pending": 0, "detected": 0, "failed": 0}
	for _, r := range records {
		counts[r.Status]++
	}
	return counts
}

// ListMachineImages fetches every image result for a machine.
func (c *Client) ListMachineImages(ctx context.Context, machineID string) ([]ResultRecord, error) {
	var records []ResultRecord
	if err := c.getJSON(ctx, "/list/machine/image/"+url.PathEscape(machineID), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	if err := c.getJSON(ctx, "/result", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
