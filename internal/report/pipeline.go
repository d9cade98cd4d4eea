package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carcrashlawyerai/backend/internal/model"
	"github.com/carcrashlawyerai/backend/internal/store"
)

// ErrLookupUnavailable means the vehicle registry client has no credentials.
// Nothing about the document can change that, so callers hold the document
// back instead of recording a failure.
var ErrLookupUnavailable = errors.New("vehicle lookup not configured")

// PDFService fills a template and returns the retrievable URL of the result.
type PDFService interface {
	Fill(ctx context.Context, templateURL, name string, fields map[string]string) (string, error)
}

// BackupStore keeps a durable copy of a generated report.
type BackupStore interface {
	Configured() bool
	Store(ctx context.Context, userID, filename, pdfURL string) (string, error)
}

// Mailer delivers the pipeline's outbound mail.
type Mailer interface {
	SendReport(ctx context.Context, recipients []string, subject, pdfURL, backupLink string) error
	SendSignupConfirmation(ctx context.Context, to, fullName, vehicleSummary string) error
}

// VehicleLookup resolves a registration plate to registry details.
type VehicleLookup interface {
	Configured() bool
	Lookup(ctx context.Context, plate string) (*model.VehicleEnrichment, error)
}

// Pipeline runs the report-generation and delivery workflow for one document
// at a time. It is the only component that writes ledger, retry-queue, and
// record-status rows.
type Pipeline struct {
	signups   *store.SignupStore
	incidents *store.IncidentStore
	ledger    *store.LedgerStore
	pdf       PDFService
	backup    BackupStore
	mailer    Mailer
	vehicles  VehicleLookup

	templateURL   string
	internalEmail string
	logger        *slog.Logger
}

func NewPipeline(
	signups *store.SignupStore,
	incidents *store.IncidentStore,
	ledger *store.LedgerStore,
	pdfSvc PDFService,
	backup BackupStore,
	mailer Mailer,
	vehicles VehicleLookup,
	templateURL, internalEmail string,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		signups:       signups,
		incidents:     incidents,
		ledger:        ledger,
		pdf:           pdfSvc,
		backup:        backup,
		mailer:        mailer,
		vehicles:      vehicles,
		templateURL:   templateURL,
		internalEmail: internalEmail,
		logger:        logger,
	}
}

// Result describes a successful incident pipeline run.
type Result struct {
	DocID      string
	Recipient  string
	PDFURL     string
	BackupLink string
}

// ProcessIncident runs assemble, fill, backup, notify, and the ledger write
// for one incident. Exactly one ledger entry is appended per invocation
// unless a referenced record is absent, in which case it aborts with
// ErrNotFound before the ledger stage.
func (p *Pipeline) ProcessIncident(ctx context.Context, docID string) (*Result, error) {
	start := time.Now()

	incident, err := p.incidents.GetByID(docID)
	if err != nil {
		return nil, fmt.Errorf("fetch incident: %w", err)
	}
	if incident == nil {
		return nil, fmt.Errorf("incident %s: %w", docID, ErrNotFound)
	}

	signup, err := p.signups.GetByID(incident.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch signup: %w", err)
	}
	if signup == nil {
		return nil, fmt.Errorf("signup %s for incident %s: %w", incident.UserID, docID, ErrNotFound)
	}

	fields := Merge(signup, incident)
	recipient := Recipient(incident, signup, p.internalEmail)
	filename := fmt.Sprintf("Incident_Report_%s.pdf", incident.UserID)

	pdfURL, err := p.pdf.Fill(ctx, p.templateURL, filename, fields)
	if err != nil {
		p.recordFailure(docID, err)
		return nil, err
	}

	// Backup failure is non-fatal: the email still goes out with the
	// primary link only.
	var backupLink string
	if p.backup != nil && p.backup.Configured() {
		backupLink, err = p.backup.Store(ctx, incident.UserID, filename, pdfURL)
		if err != nil {
			p.logger.Warn("backup failed, continuing without backup link", "doc_id", docID, "error", err)
			backupLink = ""
		}
	}

	recipients := []string{recipient}
	if recipient != p.internalEmail {
		recipients = append(recipients, p.internalEmail)
	}

	subject := "Your Incident Report - Car Crash Lawyer AI"
	if err := p.mailer.SendReport(ctx, recipients, subject, pdfURL, backupLink); err != nil {
		p.recordFailure(docID, fmt.Errorf("send report email: %w", err))
		return nil, err
	}

	elapsed := time.Since(start)
	if _, err := p.ledger.AppendSuccess(docID, recipient, pdfURL, backupLink); err != nil {
		p.logger.Error("failed to append success ledger entry", "doc_id", docID, "error", err)
	}
	if err := p.incidents.MarkCompleted(docID, elapsed.Milliseconds()); err != nil {
		p.logger.Error("failed to mark incident completed", "doc_id", docID, "error", err)
	}

	p.logger.Info("incident report delivered",
		"doc_id", docID, "recipient", recipient, "duration", elapsed)

	return &Result{
		DocID:      docID,
		Recipient:  recipient,
		PDFURL:     pdfURL,
		BackupLink: backupLink,
	}, nil
}

// recordFailure is the single failure branch: one ledger entry, one retry
// queue entry carrying the same reason, and the status flip on the record.
func (p *Pipeline) recordFailure(docID string, cause error) {
	msg := cause.Error()
	if _, err := p.ledger.AppendFailure(docID, msg); err != nil {
		p.logger.Error("failed to append failure ledger entry", "doc_id", docID, "error", err)
	}
	if _, err := p.ledger.Enqueue(docID, msg); err != nil {
		p.logger.Error("failed to enqueue retry entry", "doc_id", docID, "error", err)
	}
	if err := p.incidents.MarkFailed(docID, msg); err != nil {
		p.logger.Error("failed to mark incident failed", "doc_id", docID, "error", err)
	}
	p.logger.Warn("incident pipeline failed", "doc_id", docID, "error", msg)
}

// ProcessSignup runs the signup enrichment pipeline: registry lookup, merge,
// confirmation email. Signups without a confirmed payment, a registration
// plate, or a contact address are skipped with a warning, not an error. This
// pipeline shares only the ledger sink with the incident pipeline.
func (p *Pipeline) ProcessSignup(ctx context.Context, docID string) error {
	signup, err := p.signups.GetByID(docID)
	if err != nil {
		return fmt.Errorf("fetch signup: %w", err)
	}
	if signup == nil {
		return fmt.Errorf("signup %s: %w", docID, ErrNotFound)
	}

	switch {
	case signup.PaymentStatus != model.PaymentConfirmed:
		p.logger.Warn("skipping signup enrichment: payment not confirmed", "doc_id", docID)
		return nil
	case signup.RegistrationPlate == "":
		p.logger.Warn("skipping signup enrichment: no registration plate", "doc_id", docID)
		return nil
	case signup.Email == "":
		p.logger.Warn("skipping signup enrichment: no contact address", "doc_id", docID)
		return nil
	}

	if p.vehicles == nil || !p.vehicles.Configured() {
		return fmt.Errorf("signup %s: %w", docID, ErrLookupUnavailable)
	}

	enrichment, err := p.vehicles.Lookup(ctx, signup.RegistrationPlate)
	if err != nil {
		p.recordSignupFailure(docID, fmt.Errorf("vehicle lookup: %w", err))
		return err
	}

	if err := p.signups.ApplyEnrichment(docID, *enrichment); err != nil {
		p.recordSignupFailure(docID, err)
		return err
	}

	summary := vehicleSummary(signup, enrichment)
	if err := p.mailer.SendSignupConfirmation(ctx, signup.Email, signup.FullName, summary); err != nil {
		p.recordSignupFailure(docID, fmt.Errorf("send confirmation email: %w", err))
		return err
	}

	if _, err := p.ledger.AppendSuccess(docID, signup.Email, "", ""); err != nil {
		p.logger.Error("failed to append signup ledger entry", "doc_id", docID, "error", err)
	}

	p.logger.Info("signup enriched and confirmed", "doc_id", docID, "plate", signup.RegistrationPlate)
	return nil
}

func (p *Pipeline) recordSignupFailure(docID string, cause error) {
	msg := cause.Error()
	if _, err := p.ledger.AppendFailure(docID, msg); err != nil {
		p.logger.Error("failed to append failure ledger entry", "doc_id", docID, "error", err)
	}
	if _, err := p.ledger.Enqueue(docID, msg); err != nil {
		p.logger.Error("failed to enqueue retry entry", "doc_id", docID, "error", err)
	}
	if err := p.signups.MarkEnrichmentFailed(docID); err != nil {
		p.logger.Error("failed to mark enrichment failed", "doc_id", docID, "error", err)
	}
	p.logger.Warn("signup pipeline failed", "doc_id", docID, "error", msg)
}

func vehicleSummary(signup *model.Signup, e *model.VehicleEnrichment) string {
	makeName := e.Make
	if makeName == "" {
		makeName = signup.VehicleMake
	}
	colour := e.Colour
	if colour == "" {
		colour = signup.VehicleColour
	}
	summary := makeName + " " + signup.VehicleModel
	if colour != "" {
		summary += ", " + colour
	}
	if e.FuelType != "" {
		summary += ", " + e.FuelType
	}
	return summary
}
