// Package dvla queries the DVLA Vehicle Enquiry Service for registration
// details used to enrich signup records.
package dvla

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carcrashlawyerai/backend/internal/model"
)

const defaultBaseURL = "https://driver-vehicle-licensing.api.gov.uk"

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
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

// Configured returns true if an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type vehicleResponse struct {
	Make           string `json:"make"`
	Colour         string `json:"colour"`
	EngineCapacity int    `json:"engineCapacity"`
	FuelType       string `json:"fuelType"`
	TaxStatus      string `json:"taxStatus"`
	MotStatus      string `json:"motStatus"`
}

type lookupRequest struct {
	RegistrationNumber string `json:"registrationNumber"`
}

// Lookup fetches registry details for a registration plate. The plate is
// normalised (spaces stripped, upper-cased) before the call.
func (c *Client) Lookup(ctx context.Context, plate string) (*model.VehicleEnrichment, error) {
	plate = strings.ToUpper(strings.ReplaceAll(plate, " ", ""))
	if plate == "" {
		return nil, fmt.Errorf("empty registration plate")
	}

	payload, err := json.Marshal(lookupRequest{RegistrationNumber: plate})
	if err != nil {
		return nil, fmt.Errorf("marshal lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/vehicle-enquiry/v1/vehicles", strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("create lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vehicle enquiry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vehicle enquiry returned status %d", resp.StatusCode)
	}

	var v vehicleResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode vehicle enquiry response: %w", err)
	}

	e := &model.VehicleEnrichment{
		Make:      v.Make,
		Colour:    v.Colour,
		FuelType:  v.FuelType,
		TaxStatus: v.TaxStatus,
		MOTStatus: v.MotStatus,
	}
	if v.EngineCapacity > 0 {
		e.EngineCapacity = strconv.Itoa(v.EngineCapacity) + "cc"
	}
	return e, nil
}
