// Package sinkhttp implements the RecordSink port against the storage
// service's HTTP API.
package sinkhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RecordSink = (*Client)(nil)

// requestTimeout bounds one record submission. There are no retries.
const requestTimeout = 15 * time.Second

// Client submits records to the storage sink via POST /entries.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a sink client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client, for
// injecting an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// Create stores the record. A 201 returns the generated id; a 409 means a
// record with the same code hash already exists and is reported as
// driven.ErrDuplicateRecord; any other status is a failure.
func (c *Client) Create(ctx context.Context, rec model.Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding record %s: %w", rec.CodeHash, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/entries", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting record %s: %w", rec.CodeHash, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil && err != io.EOF {
			return "", fmt.Errorf("decoding sink response for %s: %w", rec.CodeHash, err)
		}
		return created.ID, nil
	case http.StatusConflict:
		return "", fmt.Errorf("record %s: %w", rec.CodeHash, driven.ErrDuplicateRecord)
	default:
		return "", fmt.Errorf("sink rejected record %s: HTTP %d", rec.CodeHash, resp.StatusCode)
	}
}
