package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carcrashlawyerai/backend/internal/model"
)

type SignupStore struct {
	db *sql.DB
}

func NewSignupStore(db *sql.DB) *SignupStore {
	return &SignupStore{db: db}
}

const signupCols = `id, email, full_name, phone, registration_plate, vehicle_make, vehicle_model, vehicle_colour,
	payment_status, payment_transaction_id, engine_capacity, fuel_type, tax_status, mot_status, mileage,
	enriched_at, enrichment_failed_at, created_at, reminder_sent_at, escalated_at`

func scanSignup(scanner interface{ Scan(...any) error }) (*model.Signup, error) {
	var s model.Signup
	var enrichedAt, enrichmentFailedAt, reminderSentAt, escalatedAt sql.NullTime

	err := scanner.Scan(
		&s.ID, &s.Email, &s.FullName, &s.Phone, &s.RegistrationPlate,
		&s.VehicleMake, &s.VehicleModel, &s.VehicleColour,
		&s.PaymentStatus, &s.PaymentTransactionID,
		&s.EngineCapacity, &s.FuelType, &s.TaxStatus, &s.MOTStatus, &s.Mileage,
		&enrichedAt, &enrichmentFailedAt, &s.CreatedAt, &reminderSentAt, &escalatedAt,
	)
	if err != nil {
		return nil, err
	}

	if enrichedAt.Valid {
		s.EnrichedAt = &enrichedAt.Time
	}
	if enrichmentFailedAt.Valid {
		s.EnrichmentFailedAt = &enrichmentFailedAt.Time
	}
	if reminderSentAt.Valid {
		s.ReminderSentAt = &reminderSentAt.Time
	}
	if escalatedAt.Valid {
		s.EscalatedAt = &escalatedAt.Time
	}
	return &s, nil
}

// Create inserts a new signup record. A document id is generated when the
// caller does not supply one.
func (s *SignupStore) Create(sg model.Signup) (*model.Signup, error) {
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	if sg.PaymentStatus == "" {
		sg.PaymentStatus = model.PaymentPending
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO signups (id, email, full_name, phone, registration_plate, vehicle_make, vehicle_model, vehicle_colour, payment_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.Email, sg.FullName, sg.Phone, sg.RegistrationPlate,
		sg.VehicleMake, sg.VehicleModel, sg.VehicleColour, sg.PaymentStatus, sg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert signup: %w", err)
	}
	return s.GetByID(sg.ID)
}

func (s *SignupStore) GetByID(id string) (*model.Signup, error) {
	row := s.db.QueryRow(`SELECT `+signupCols+` FROM signups WHERE id = ?`, id)
	sg, err := scanSignup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get signup: %w", err)
	}
	return sg, nil
}

func (s *SignupStore) GetByEmail(email string) (*model.Signup, error) {
	row := s.db.QueryRow(
		`SELECT `+signupCols+` FROM signups WHERE email = ? ORDER BY created_at DESC LIMIT 1`,
		email,
	)
	sg, err := scanSignup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get signup by email: %w", err)
	}
	return sg, nil
}

// ConfirmPayment flips the payment status to confirmed and records the
// processor transaction id.
func (s *SignupStore) ConfirmPayment(id, transactionID string) error {
	_, err := s.db.Exec(
		`UPDATE signups SET payment_status = ?, payment_transaction_id = ? WHERE id = ?`,
		model.PaymentConfirmed, transactionID, id,
	)
	if err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	return nil
}

// ApplyEnrichment merges vehicle-registry lookup results into the signup and
// stamps enriched_at.
func (s *SignupStore) ApplyEnrichment(id string, e model.VehicleEnrichment) error {
	_, err := s.db.Exec(
		`UPDATE signups SET vehicle_make = CASE WHEN ? != '' THEN ? ELSE vehicle_make END,
			vehicle_colour = CASE WHEN ? != '' THEN ? ELSE vehicle_colour END,
			engine_capacity = ?, fuel_type = ?, tax_status = ?, mot_status = ?, mileage = ?,
			enriched_at = ?
		 WHERE id = ?`,
		e.Make, e.Make, e.Colour, e.Colour,
		e.EngineCapacity, e.FuelType, e.TaxStatus, e.MOTStatus, e.Mileage,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("apply enrichment: %w", err)
	}
	return nil
}

// ListEnrichable returns signups ready for vehicle enrichment, oldest first:
// payment confirmed, plate and contact address present, no prior outcome. Rows
// that cannot progress are excluded here so they never occupy the poll window.
func (s *SignupStore) ListEnrichable(limit int) ([]model.Signup, error) {
	rows, err := s.db.Query(
		`SELECT `+signupCols+` FROM signups
		 WHERE payment_status = ? AND registration_plate != '' AND email != ''
		   AND enriched_at IS NULL AND enrichment_failed_at IS NULL
		 ORDER BY created_at ASC LIMIT ?`,
		model.PaymentConfirmed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list enrichable signups: %w", err)
	}
	defer rows.Close()
	return collectSignups(rows)
}

// MarkEnrichmentFailed records a terminal enrichment failure so the signup
// leaves the enrichable set.
func (s *SignupStore) MarkEnrichmentFailed(id string) error {
	_, err := s.db.Exec(`UPDATE signups SET enrichment_failed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark enrichment failed: %w", err)
	}
	return nil
}

// ListPendingReminder returns pending-payment signups created at or before
// the cutoff that have not yet been sent a reminder.
func (s *SignupStore) ListPendingReminder(cutoff time.Time) ([]model.Signup, error) {
	rows, err := s.db.Query(
		`SELECT `+signupCols+` FROM signups
		 WHERE payment_status = ? AND created_at <= ? AND reminder_sent_at IS NULL
		 ORDER BY created_at ASC`,
		model.PaymentPending, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending reminders: %w", err)
	}
	defer rows.Close()
	return collectSignups(rows)
}

// ListPendingEscalation returns pending-payment signups created at or before
// the cutoff that have not yet been escalated internally.
func (s *SignupStore) ListPendingEscalation(cutoff time.Time) ([]model.Signup, error) {
	rows, err := s.db.Query(
		`SELECT `+signupCols+` FROM signups
		 WHERE payment_status = ? AND created_at <= ? AND escalated_at IS NULL
		 ORDER BY created_at ASC`,
		model.PaymentPending, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending escalations: %w", err)
	}
	defer rows.Close()
	return collectSignups(rows)
}

func (s *SignupStore) MarkReminderSent(id string) error {
	_, err := s.db.Exec(`UPDATE signups SET reminder_sent_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

func (s *SignupStore) MarkEscalated(id string) error {
	_, err := s.db.Exec(`UPDATE signups SET escalated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark escalated: %w", err)
	}
	return nil
}

func collectSignups(rows *sql.Rows) ([]model.Signup, error) {
	var signups []model.Signup
	for rows.Next() {
		sg, err := scanSignup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signup: %w", err)
		}
		signups = append(signups, *sg)
	}
	return signups, rows.Err()
}
