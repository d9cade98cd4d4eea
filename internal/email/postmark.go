// Package email sends transactional mail through the Postmark relay.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.postmarkapp.com"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = u
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendReport delivers the report links to the recipient and the internal
// address in a single message. An empty backupLink produces a note that the
// backup copy is unavailable.
func (c *Client) SendReport(ctx context.Context, recipients []string, subject, pdfURL, backupLink string) error {
	var html, text strings.Builder

	html.WriteString(`<p>Your legal report is ready. You can download it here:</p>`)
	fmt.Fprintf(&html, `<p><a href="%s">%s</a></p>`, pdfURL, pdfURL)
	text.WriteString("Your legal report is ready. You can download it here:\n\n" + pdfURL + "\n")

	if backupLink != "" {
		fmt.Fprintf(&html, `<p>A backup copy is stored here: <a href="%s">%s</a></p>`, backupLink, backupLink)
		text.WriteString("\nA backup copy is stored here: " + backupLink + "\n")
	} else {
		html.WriteString(`<p>A backup copy could not be stored; only the link above is available.</p>`)
		text.WriteString("\nA backup copy could not be stored; only the link above is available.\n")
	}

	return c.send(ctx, recipients, subject, html.String(), text.String())
}

// SendSignupConfirmation confirms a completed signup, including the vehicle
// details returned by the registry lookup.
func (c *Client) SendSignupConfirmation(ctx context.Context, to, fullName, vehicleSummary string) error {
	name := fullName
	if name == "" {
		name = "there"
	}
	subject := "Welcome to Car Crash Lawyer AI"
	text := fmt.Sprintf("Hi %s,\n\nYour sign-up is complete and your payment has been received.\n\nVehicle on record: %s\n\nIf anything looks wrong, reply to this email.", name, vehicleSummary)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>Your sign-up is complete and your payment has been received.</p><p>Vehicle on record: %s</p><p>If anything looks wrong, reply to this email.</p>`, name, vehicleSummary)
	return c.send(ctx, []string{to}, subject, html, text)
}

// SendPaymentReminder nudges a signup whose payment is still pending.
func (c *Client) SendPaymentReminder(ctx context.Context, to, fullName string) error {
	name := fullName
	if name == "" {
		name = "there"
	}
	subject := "Complete your Car Crash Lawyer AI sign-up"
	text := fmt.Sprintf("Hi %s,\n\nYour sign-up is waiting on payment. Complete it to activate your incident reporting.", name)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>Your sign-up is waiting on payment. Complete it to activate your incident reporting.</p>`, name)
	return c.send(ctx, []string{to}, subject, html, text)
}

// SendEscalation notifies the internal address about a signup whose payment
// has been pending past the long threshold.
func (c *Client) SendEscalation(ctx context.Context, internalAddr, signupID, signupEmail string, age time.Duration) error {
	subject := "Stale pending signup: " + signupID
	text := fmt.Sprintf("Signup %s (%s) has had payment pending for %d days.", signupID, signupEmail, int(age.Hours()/24))
	html := fmt.Sprintf(`<p>Signup %s (%s) has had payment pending for %d days.</p>`, signupID, signupEmail, int(age.Hours()/24))
	return c.send(ctx, []string{internalAddr}, subject, html, text)
}

func (c *Client) send(ctx context.Context, to []string, subject, htmlBody, textBody string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       strings.Join(to, ","),
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
