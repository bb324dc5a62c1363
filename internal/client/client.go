// Package client talks to the event backend: band lookup and measurement
// submission.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emmett/crowdmeter/internal/meter"
	"github.com/rs/zerolog"
)

var (
	// ErrSubmissionFailed means the backend rejected or never received a
	// measurement
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrBandNotFound means the event has no band with the requested id
	ErrBandNotFound = errors.New("band not found")
)

// Band is one competing band of an event
type Band struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	LogoURL string `json:"logo_url,omitempty"`
}

// Client is an HTTP client for the event backend
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// New creates a client for the backend at baseURL
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Band fetches a band of an event
func (c *Client) Band(ctx context.Context, eventID, bandID string) (Band, error) {
	endpoint := fmt.Sprintf("%s/api/events/%s/bands/%s", c.baseURL, url.PathEscape(eventID), url.PathEscape(bandID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Band{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Band{}, fmt.Errorf("failed to fetch band: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Band{}, fmt.Errorf("%w: %s", ErrBandNotFound, bandID)
	}
	if resp.StatusCode != http.StatusOK {
		return Band{}, fmt.Errorf("failed to fetch band: %s", serverMessage(resp))
	}

	var band Band
	if err := json.NewDecoder(resp.Body).Decode(&band); err != nil {
		return Band{}, fmt.Errorf("failed to decode band: %w", err)
	}
	return band, nil
}

// Save posts a finished measurement. Any non-2xx answer is reported as
// ErrSubmissionFailed carrying the server's message.
func (c *Client) Save(ctx context.Context, m meter.Measurement) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode measurement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/crowd-noise", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrSubmissionFailed, serverMessage(resp))
	}

	c.log.Debug().Str("band", m.BandID).Int("score", m.CrowdScore).Int("status", resp.StatusCode).Msg("Measurement saved")
	return nil
}

// serverMessage extracts the error or message field of a JSON error body,
// falling back to the HTTP status
func serverMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return resp.Status
}
