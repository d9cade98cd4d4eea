package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carcrashlawyerai/backend/internal/model"
)

type IncidentStore struct {
	db *sql.DB
}

func NewIncidentStore(db *sql.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

const incidentCols = `id, user_id, vehicle_make, vehicle_model, statement, latitude, longitude,
	three_word_location, image_urls, voice_transcript_url, contact_email, created_at,
	processing_status, error_message, last_attempt, processing_ms`

func scanIncident(scanner interface{ Scan(...any) error }) (*model.Incident, error) {
	var i model.Incident
	var imageURLs string
	var lastAttempt sql.NullTime

	err := scanner.Scan(
		&i.ID, &i.UserID, &i.VehicleMake, &i.VehicleModel, &i.Statement,
		&i.Latitude, &i.Longitude, &i.ThreeWordLocation,
		&imageURLs, &i.VoiceTranscriptURL, &i.ContactEmail, &i.CreatedAt,
		&i.ProcessingStatus, &i.ErrorMessage, &lastAttempt, &i.ProcessingMS,
	)
	if err != nil {
		return nil, err
	}

	if lastAttempt.Valid {
		i.LastAttempt = &lastAttempt.Time
	}
	if imageURLs != "" {
		if err := json.Unmarshal([]byte(imageURLs), &i.ImageURLs); err != nil {
			return nil, fmt.Errorf("decode image urls: %w", err)
		}
	}
	return &i, nil
}

// Create inserts a new incident record with processing status pending.
func (s *IncidentStore) Create(inc model.Incident) (*model.Incident, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}
	if inc.ImageURLs == nil {
		inc.ImageURLs = []string{}
	}

	imageURLs, err := json.Marshal(inc.ImageURLs)
	if err != nil {
		return nil, fmt.Errorf("encode image urls: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO incidents (id, user_id, vehicle_make, vehicle_model, statement, latitude, longitude,
			three_word_location, image_urls, voice_transcript_url, contact_email, created_at, processing_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.UserID, inc.VehicleMake, inc.VehicleModel, inc.Statement,
		inc.Latitude, inc.Longitude, inc.ThreeWordLocation,
		string(imageURLs), inc.VoiceTranscriptURL, inc.ContactEmail, inc.CreatedAt,
		model.ProcessingPending,
	)
	if err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}
	return s.GetByID(inc.ID)
}

func (s *IncidentStore) GetByID(id string) (*model.Incident, error) {
	row := s.db.QueryRow(`SELECT `+incidentCols+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// ListPending returns incidents awaiting processing, oldest first. Incidents
// whose owning signup has not arrived yet are held back; they become eligible
// the moment the signup record exists.
func (s *IncidentStore) ListPending(limit int) ([]model.Incident, error) {
	rows, err := s.db.Query(
		`SELECT `+incidentCols+` FROM incidents
		 WHERE processing_status = ?
		   AND EXISTS (SELECT 1 FROM signups WHERE signups.id = incidents.user_id)
		 ORDER BY created_at ASC LIMIT ?`,
		model.ProcessingPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending incidents: %w", err)
	}
	defer rows.Close()

	var incidents []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

// SetThreeWordLocation records the geocoded three-word address for an
// incident. Called from the background geocode task, not the pipeline.
func (s *IncidentStore) SetThreeWordLocation(id, words string) error {
	_, err := s.db.Exec(`UPDATE incidents SET three_word_location = ? WHERE id = ?`, words, id)
	if err != nil {
		return fmt.Errorf("set three word location: %w", err)
	}
	return nil
}

// MarkCompleted flips the incident to completed in a single update, recording
// the attempt time and how long processing took.
func (s *IncidentStore) MarkCompleted(id string, processingMS int64) error {
	_, err := s.db.Exec(
		`UPDATE incidents SET processing_status = ?, error_message = '', last_attempt = ?, processing_ms = ? WHERE id = ?`,
		model.ProcessingCompleted, time.Now().UTC(), processingMS, id,
	)
	if err != nil {
		return fmt.Errorf("mark incident completed: %w", err)
	}
	return nil
}

// MarkFailed flips the incident to failed in a single update, recording the
// error and the attempt time.
func (s *IncidentStore) MarkFailed(id, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE incidents SET processing_status = ?, error_message = ?, last_attempt = ? WHERE id = ?`,
		model.ProcessingFailed, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark incident failed: %w", err)
	}
	return nil
}
