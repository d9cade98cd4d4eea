// Package pdf talks to the PDF.co templating service: it submits a filled
// field set against a document template and returns the URL of the produced
// PDF.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// ErrGenerationFailed covers every upstream failure mode: unreachable
// template, rejected credentials, or a response without a result URL. The
// wrapped message carries the upstream detail. No retries happen at this
// layer.
var ErrGenerationFailed = errors.New("pdf generation failed")

const defaultBaseURL = "https://api.pdf.co"

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// templateField is the service's field-list shape: one entry per placeholder,
// applied across all pages.
type templateField struct {
	FieldName string `json:"fieldName"`
	Pages     string `json:"pages"`
	Text      string `json:"text"`
}

type fillRequest struct {
	URL    string          `json:"url"`
	Name   string          `json:"name"`
	Async  bool            `json:"async"`
	Fields []templateField `json:"fields"`
}

type fillResponse struct {
	URL     string `json:"url"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Fill submits the merged field map against the template and blocks until the
// service responds. The mapping is business-form-sized, so the call is
// synchronous. Returns the retrievable URL of the produced document.
func (c *Client) Fill(ctx context.Context, templateURL, name string, fields map[string]string) (string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	reqBody := fillRequest{
		URL:   templateURL,
		Name:  name,
		Async: false,
	}
	for _, k := range keys {
		reqBody.Fields = append(reqBody.Fields, templateField{
			FieldName: k,
			Pages:     "0-",
			Text:      fields[k],
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal fill request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/pdf/edit/add", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create fill request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	var result fillResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrGenerationFailed, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: authentication rejected (status %d)", ErrGenerationFailed, resp.StatusCode)
	}
	if resp.StatusCode >= 400 || result.Error {
		return "", fmt.Errorf("%w: %s (status %d)", ErrGenerationFailed, result.Message, resp.StatusCode)
	}
	if result.URL == "" {
		return "", fmt.Errorf("%w: service returned no result URL", ErrGenerationFailed)
	}

	return result.URL, nil
}
