// Package config loads all process configuration from the environment in one
// step at startup. Missing required credentials abort before the server
// accepts traffic.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	DBPath   string `envconfig:"DB_PATH" default:"crashlawyer.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// PDF service
	PDFcoAPIKey         string `envconfig:"PDFCO_API_KEY"`
	IncidentTemplateURL string `envconfig:"PDFCO_TEMPLATE_FILE_INCIDENT_REPORT"`
	ReportRetentionDays int    `envconfig:"REPORT_RETENTION_DAYS" default:"30"`

	// Email relay
	PostmarkServerToken string `envconfig:"POSTMARK_SERVER_TOKEN"`
	EmailFrom           string `envconfig:"EMAIL_FROM" default:"reports@carcrashlawyerai.com"`
	InternalEmail       string `envconfig:"INTERNAL_EMAIL" default:"accounts@carcrashlawyerai.com"`

	// Payment processor
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`

	// Object storage. Either the discrete variables or a base64-encoded JSON
	// credential blob (the deployment's historical format) may be supplied.
	StorageEndpoint          string `envconfig:"STORAGE_ENDPOINT"`
	StorageBucket            string `envconfig:"STORAGE_BUCKET"`
	StorageRegion            string `envconfig:"STORAGE_REGION" default:"auto"`
	StorageAccessKey         string `envconfig:"STORAGE_ACCESS_KEY"`
	StorageSecretKey         string `envconfig:"STORAGE_SECRET_KEY"`
	StorageCredentialsBase64 string `envconfig:"STORAGE_CREDENTIALS_BASE64"`

	// Lookup services
	What3WordsAPIKey string `envconfig:"W3W_API_KEY"`
	DVLAAPIKey       string `envconfig:"DVLA_API_KEY"`

	// Sweep thresholds
	ReminderAfterHours  int `envconfig:"REMINDER_AFTER_HOURS" default:"2"`
	EscalateAfterDays   int `envconfig:"ESCALATE_AFTER_DAYS" default:"30"`
	SweepIntervalMins   int `envconfig:"SWEEP_INTERVAL_MINS" default:"15"`
	PollIntervalSeconds int `envconfig:"POLL_INTERVAL_SECONDS" default:"5"`
}

// storageCredentials is the shape of the base64-encoded credential blob.
type storageCredentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
}

// Load reads configuration from the environment. It is the only place
// credentials are decoded; any missing required secret is an error and the
// process must not start serving traffic.
func Load() (*Config, error) {
	c := new(Config)
	if err := envconfig.Process("", c); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	if c.StorageCredentialsBase64 != "" {
		if err := c.decodeStorageCredentials(); err != nil {
			return nil, err
		}
	}

	if c.PDFcoAPIKey == "" {
		return nil, fmt.Errorf("PDFCO_API_KEY is required")
	}
	if c.IncidentTemplateURL == "" {
		return nil, fmt.Errorf("PDFCO_TEMPLATE_FILE_INCIDENT_REPORT is required")
	}
	if c.PostmarkServerToken == "" {
		return nil, fmt.Errorf("POSTMARK_SERVER_TOKEN is required")
	}
	if c.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	return c, nil
}

func (c *Config) decodeStorageCredentials() error {
	raw, err := base64.StdEncoding.DecodeString(c.StorageCredentialsBase64)
	if err != nil {
		return fmt.Errorf("decode STORAGE_CREDENTIALS_BASE64: %w", err)
	}

	var creds storageCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return fmt.Errorf("parse storage credentials: %w", err)
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return fmt.Errorf("storage credentials blob missing access_key or secret_key")
	}

	c.StorageAccessKey = creds.AccessKey
	c.StorageSecretKey = creds.SecretKey
	if creds.Bucket != "" {
		c.StorageBucket = creds.Bucket
	}
	if creds.Endpoint != "" {
		c.StorageEndpoint = creds.Endpoint
	}
	if creds.Region != "" {
		c.StorageRegion = creds.Region
	}
	return nil
}
