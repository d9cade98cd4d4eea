package report

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/carcrashlawyerai/backend/internal/database"
	"github.com/carcrashlawyerai/backend/internal/model"
	"github.com/carcrashlawyerai/backend/internal/pdf"
	"github.com/carcrashlawyerai/backend/internal/store"
)

type fakePDF struct {
	url    string
	err    error
	calls  int
	fields map[string]string
}

func (f *fakePDF) Fill(_ context.Context, _, _ string, fields map[string]string) (string, error) {
	f.calls++
	f.fields = fields
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeBackup struct {
	link       string
	err        error
	calls      int
	lastUser   string
	lastFile   string
	configured bool
}

func (f *fakeBackup) Configured() bool { return f.configured }

func (f *fakeBackup) Store(_ context.Context, userID, filename, _ string) (string, error) {
	f.calls++
	f.lastUser = userID
	f.lastFile = filename
	if f.err != nil {
		return "", f.err
	}
	return f.link, nil
}

type fakeMailer struct {
	reportErr       error
	reportCalls     int
	lastRecipients  []string
	lastSubject     string
	lastPDFURL      string
	lastBackupLink  string
	confirmErr      error
	confirmCalls    int
	lastConfirmTo   string
	lastVehicleDesc string
}

func (f *fakeMailer) SendReport(_ context.Context, recipients []string, subject, pdfURL, backupLink string) error {
	f.reportCalls++
	f.lastRecipients = recipients
	f.lastSubject = subject
	f.lastPDFURL = pdfURL
	f.lastBackupLink = backupLink
	return f.reportErr
}

func (f *fakeMailer) SendSignupConfirmation(_ context.Context, to, _, vehicleSummary string) error {
	f.confirmCalls++
	f.lastConfirmTo = to
	f.lastVehicleDesc = vehicleSummary
	return f.confirmErr
}

type fakeVehicles struct {
	enrichment *model.VehicleEnrichment
	err        error
	calls      int
	configured bool
}

func (f *fakeVehicles) Configured() bool { return f.configured }

func (f *fakeVehicles) Lookup(_ context.Context, _ string) (*model.VehicleEnrichment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.enrichment, nil
}

type pipelineEnv struct {
	signups   *store.SignupStore
	incidents *store.IncidentStore
	ledger    *store.LedgerStore
	pdf       *fakePDF
	backup    *fakeBackup
	mailer    *fakeMailer
	vehicles  *fakeVehicles
	pipeline  *Pipeline
}

func setupPipeline(t *testing.T) *pipelineEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &pipelineEnv{
		signups:   store.NewSignupStore(db),
		incidents: store.NewIncidentStore(db),
		ledger:    store.NewLedgerStore(db),
		pdf:       &fakePDF{url: "https://pdf.example/out.pdf"},
		backup:    &fakeBackup{link: "https://s3.example/out.pdf", configured: true},
		mailer:    &fakeMailer{},
		vehicles:  &fakeVehicles{configured: true, enrichment: &model.VehicleEnrichment{Make: "TESLA", FuelType: "Electric"}},
	}
	env.pipeline = NewPipeline(
		env.signups, env.incidents, env.ledger,
		env.pdf, env.backup, env.mailer, env.vehicles,
		"https://templates.example/incident-report.pdf",
		"accounts@carcrashlawyerai.com",
		slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
	)
	return env
}

func (e *pipelineEnv) seedIncident(t *testing.T) *model.Incident {
	t.Helper()
	sg, err := e.signups.Create(model.Signup{
		ID:          "user-1",
		Email:       "driver@x.com",
		FullName:    "Alice Example",
		VehicleMake: "Tesla",
	})
	if err != nil {
		t.Fatalf("seed signup: %v", err)
	}
	inc, err := e.incidents.Create(model.Incident{
		UserID:    sg.ID,
		Statement: "Rear-ended at a junction.",
	})
	if err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	return inc
}

func TestProcessIncidentSuccess(t *testing.T) {
	env := setupPipeline(t)
	inc := env.seedIncident(t)

	result, err := env.pipeline.ProcessIncident(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("process incident: %v", err)
	}
	if result.Recipient != "driver@x.com" {
		t.Errorf("recipient = %q", result.Recipient)
	}
	if result.PDFURL != "https://pdf.example/out.pdf" || result.BackupLink != "https://s3.example/out.pdf" {
		t.Errorf("result = %+v", result)
	}

	// Merged fields reached the fill call with incident precedence intact.
	if env.pdf.fields["vehicle_make"] != "Tesla" || env.pdf.fields["statement_of_events"] == "" {
		t.Errorf("fill fields = %v", env.pdf.fields)
	}

	// One send covers the user and the internal address.
	if env.mailer.reportCalls != 1 {
		t.Fatalf("report sends = %d, want 1", env.mailer.reportCalls)
	}
	if env.mailer.lastSubject != "Your Incident Report - Car Crash Lawyer AI" {
		t.Errorf("subject = %q", env.mailer.lastSubject)
	}
	if len(env.mailer.lastRecipients) != 2 ||
		env.mailer.lastRecipients[0] != "driver@x.com" ||
		env.mailer.lastRecipients[1] != "accounts@carcrashlawyerai.com" {
		t.Errorf("recipients = %v", env.mailer.lastRecipients)
	}

	if env.backup.lastUser != "user-1" || env.backup.lastFile != "Incident_Report_user-1.pdf" {
		t.Errorf("backup stored user=%q file=%q", env.backup.lastUser, env.backup.lastFile)
	}

	entries, _ := env.ledger.ListByDocID(inc.ID)
	if len(entries) != 1 || entries[0].Outcome != model.OutcomeSuccess {
		t.Fatalf("ledger entries = %+v", entries)
	}
	if entries[0].BackupLink != "https://s3.example/out.pdf" {
		t.Errorf("ledger backup link = %q", entries[0].BackupLink)
	}

	got, _ := env.incidents.GetByID(inc.ID)
	if got.ProcessingStatus != model.ProcessingCompleted {
		t.Errorf("status = %q, want completed", got.ProcessingStatus)
	}
}

func TestProcessIncidentPDFFailure(t *testing.T) {
	env := setupPipeline(t)
	inc := env.seedIncident(t)
	env.pdf.err = pdf.ErrGenerationFailed

	_, err := env.pipeline.ProcessIncident(context.Background(), inc.ID)
	if !errors.Is(err, pdf.ErrGenerationFailed) {
		t.Fatalf("err = %v, want generation failure", err)
	}

	if env.backup.calls != 0 {
		t.Error("backup must not run after a failed fill")
	}
	if env.mailer.reportCalls != 0 {
		t.Error("email must not be sent after a failed fill")
	}

	entries, _ := env.ledger.ListByDocID(inc.ID)
	if len(entries) != 1 || entries[0].Outcome != model.OutcomeFailed {
		t.Fatalf("ledger entries = %+v", entries)
	}
	if !strings.Contains(entries[0].Error, "pdf generation failed") {
		t.Errorf("ledger error = %q", entries[0].Error)
	}

	retries, _ := env.ledger.ListRetries(inc.ID)
	if len(retries) != 1 {
		t.Fatalf("retry entries = %d, want 1", len(retries))
	}
	if retries[0].Reason != entries[0].Error {
		t.Errorf("retry reason %q != ledger error %q", retries[0].Reason, entries[0].Error)
	}

	got, _ := env.incidents.GetByID(inc.ID)
	if got.ProcessingStatus != model.ProcessingFailed {
		t.Errorf("status = %q, want failed", got.ProcessingStatus)
	}
}

func TestProcessIncidentNotFound(t *testing.T) {
	env := setupPipeline(t)

	_, err := env.pipeline.ProcessIncident(context.Background(), "missing-doc")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// A missing record aborts before the ledger stage.
	entries, _ := env.ledger.ListByDocID("missing-doc")
	if len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0", len(entries))
	}
	retries, _ := env.ledger.ListRetries("missing-doc")
	if len(retries) != 0 {
		t.Errorf("retry entries = %d, want 0", len(retries))
	}
}

func TestProcessIncidentMissingSignup(t *testing.T) {
	env := setupPipeline(t)
	inc, err := env.incidents.Create(model.Incident{UserID: "ghost"})
	if err != nil {
		t.Fatalf("seed incident: %v", err)
	}

	_, err = env.pipeline.ProcessIncident(context.Background(), inc.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if env.pdf.calls != 0 {
		t.Error("fill must not run without a signup")
	}
	entries, _ := env.ledger.ListByDocID(inc.ID)
	if len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0", len(entries))
	}
}

func TestProcessIncidentBackupFailureIsNonFatal(t *testing.T) {
	env := setupPipeline(t)
	inc := env.seedIncident(t)
	env.backup.err = errors.New("s3 unreachable")

	result, err := env.pipeline.ProcessIncident(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("process incident: %v", err)
	}
	if result.BackupLink != "" {
		t.Errorf("backup link = %q, want empty", result.BackupLink)
	}

	// The email still goes out, without a backup link.
	if env.mailer.reportCalls != 1 {
		t.Fatalf("report sends = %d, want 1", env.mailer.reportCalls)
	}
	if env.mailer.lastBackupLink != "" {
		t.Errorf("email backup link = %q, want empty", env.mailer.lastBackupLink)
	}

	entries, _ := env.ledger.ListByDocID(inc.ID)
	if len(entries) != 1 || entries[0].Outcome != model.OutcomeSuccess {
		t.Fatalf("ledger entries = %+v", entries)
	}
}

func TestProcessIncidentEmailFailure(t *testing.T) {
	env := setupPipeline(t)
	inc := env.seedIncident(t)
	env.mailer.reportErr = errors.New("postmark API error: status 500")

	_, err := env.pipeline.ProcessIncident(context.Background(), inc.ID)
	if err == nil {
		t.Fatal("expected error from failed send")
	}

	entries, _ := env.ledger.ListByDocID(inc.ID)
	if len(entries) != 1 || entries[0].Outcome != model.OutcomeFailed {
		t.Fatalf("ledger entries = %+v", entries)
	}
	if !strings.Contains(entries[0].Error, "postmark API error") {
		t.Errorf("ledger error = %q", entries[0].Error)
	}
}

func TestProcessIncidentRepeatedRunsAppend(t *testing.T) {
	env := setupPipeline(t)
	inc := env.seedIncident(t)

	if _, err := env.pipeline.ProcessIncident(context.Background(), inc.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	env.pdf.err = pdf.ErrGenerationFailed
	if _, err := env.pipeline.ProcessIncident(context.Background(), inc.ID); err == nil {
		t.Fatal("second run should fail")
	}

	entries, _ := env.ledger.ListByDocID(inc.ID)
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}
	if entries[0].Outcome != model.OutcomeSuccess || entries[1].Outcome != model.OutcomeFailed {
		t.Errorf("entries = %+v", entries)
	}

	// Record status reflects the latest attempt.
	got, _ := env.incidents.GetByID(inc.ID)
	if got.ProcessingStatus != model.ProcessingFailed {
		t.Errorf("status = %q, want failed after last attempt", got.ProcessingStatus)
	}
}

func TestProcessIncidentContactOverrideDedup(t *testing.T) {
	env := setupPipeline(t)
	sg, _ := env.signups.Create(model.Signup{ID: "user-9", Email: "driver@x.com"})
	inc, _ := env.incidents.Create(model.Incident{
		UserID:       sg.ID,
		ContactEmail: "accounts@carcrashlawyerai.com",
	})

	if _, err := env.pipeline.ProcessIncident(context.Background(), inc.ID); err != nil {
		t.Fatalf("process incident: %v", err)
	}
	if len(env.mailer.lastRecipients) != 1 {
		t.Errorf("recipients = %v, want internal address once", env.mailer.lastRecipients)
	}
}

func TestProcessSignupSuccess(t *testing.T) {
	env := setupPipeline(t)
	sg, err := env.signups.Create(model.Signup{
		Email:             "driver@x.com",
		FullName:          "Alice Example",
		RegistrationPlate: "AB12CDE",
		VehicleMake:       "Tesla",
		VehicleModel:      "Model 3",
	})
	if err != nil {
		t.Fatalf("seed signup: %v", err)
	}
	if err := env.signups.ConfirmPayment(sg.ID, "pi_1"); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	if err := env.pipeline.ProcessSignup(context.Background(), sg.ID); err != nil {
		t.Fatalf("process signup: %v", err)
	}

	got, _ := env.signups.GetByID(sg.ID)
	if got.VehicleMake != "TESLA" || got.FuelType != "Electric" {
		t.Errorf("enrichment not applied: %+v", got)
	}
	if got.EnrichedAt == nil {
		t.Error("expected enriched_at to be set")
	}

	if env.mailer.confirmCalls != 1 || env.mailer.lastConfirmTo != "driver@x.com" {
		t.Errorf("confirmation calls = %d to %q", env.mailer.confirmCalls, env.mailer.lastConfirmTo)
	}
	if !strings.Contains(env.mailer.lastVehicleDesc, "TESLA") {
		t.Errorf("vehicle summary = %q", env.mailer.lastVehicleDesc)
	}

	entries, _ := env.ledger.ListByDocID(sg.ID)
	if len(entries) != 1 || entries[0].Outcome != model.OutcomeSuccess {
		t.Fatalf("ledger entries = %+v", entries)
	}
}

func TestProcessSignupSkips(t *testing.T) {
	env := setupPipeline(t)

	cases := []struct {
		name   string
		signup model.Signup
	}{
		{"payment pending", model.Signup{Email: "a@x.com", RegistrationPlate: "AB12CDE"}},
		{"no plate", model.Signup{Email: "b@x.com", PaymentStatus: model.PaymentConfirmed}},
		{"no email", model.Signup{RegistrationPlate: "CD34EFG", PaymentStatus: model.PaymentConfirmed}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sg, err := env.signups.Create(tc.signup)
			if err != nil {
				t.Fatalf("seed signup: %v", err)
			}
			if err := env.pipeline.ProcessSignup(context.Background(), sg.ID); err != nil {
				t.Fatalf("skip should not error: %v", err)
			}
			entries, _ := env.ledger.ListByDocID(sg.ID)
			if len(entries) != 0 {
				t.Errorf("ledger entries = %d, want 0 for skipped signup", len(entries))
			}
		})
	}

	if env.vehicles.calls != 0 {
		t.Errorf("vehicle lookups = %d, want 0", env.vehicles.calls)
	}
	if env.mailer.confirmCalls != 0 {
		t.Errorf("confirmation sends = %d, want 0", env.mailer.confirmCalls)
	}
}

func TestProcessSignupLookupUnconfigured(t *testing.T) {
	env := setupPipeline(t)
	env.vehicles.configured = false

	sg, _ := env.signups.Create(model.Signup{
		Email:             "driver@x.com",
		RegistrationPlate: "AB12CDE",
		PaymentStatus:     model.PaymentConfirmed,
	})

	err := env.pipeline.ProcessSignup(context.Background(), sg.ID)
	if !errors.Is(err, ErrLookupUnavailable) {
		t.Fatalf("err = %v, want ErrLookupUnavailable", err)
	}
	if env.vehicles.calls != 0 {
		t.Error("lookup must not be called when unconfigured")
	}

	// Unconfigured is not a failure of this signup; the row stays eligible.
	entries, _ := env.ledger.ListByDocID(sg.ID)
	if len(entries) != 0 {
		t.Errorf("ledger entries = %+v, want none", entries)
	}
	got, _ := env.signups.GetByID(sg.ID)
	if got.EnrichmentFailedAt != nil {
		t.Error("signup must not be stamped failed when lookup is unconfigured")
	}
}

func TestProcessSignupLookupFailure(t *testing.T) {
	env := setupPipeline(t)
	env.vehicles.err = errors.New("dvla API error: status 502")

	sg, _ := env.signups.Create(model.Signup{
		Email:             "driver@x.com",
		RegistrationPlate: "AB12CDE",
		PaymentStatus:     model.PaymentConfirmed,
	})

	if err := env.pipeline.ProcessSignup(context.Background(), sg.ID); err == nil {
		t.Fatal("expected lookup failure to propagate")
	}

	entries, _ := env.ledger.ListByDocID(sg.ID)
	if len(entries) != 1 || entries[0].Outcome != model.OutcomeFailed {
		t.Fatalf("ledger entries = %+v", entries)
	}
	retries, _ := env.ledger.ListRetries(sg.ID)
	if len(retries) != 1 || retries[0].Reason != entries[0].Error {
		t.Fatalf("retries = %+v", retries)
	}

	// The failure stamp takes the signup out of the enrichable set.
	got, _ := env.signups.GetByID(sg.ID)
	if got.EnrichmentFailedAt == nil {
		t.Error("signup not stamped with enrichment failure")
	}
}

func TestProcessSignupNotFound(t *testing.T) {
	env := setupPipeline(t)

	err := env.pipeline.ProcessSignup(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
