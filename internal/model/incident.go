package model

import (
	"fmt"
	"time"
)

// Processing status values for an incident.
const (
	ProcessingPending   = "pending"
	ProcessingCompleted = "completed"
	ProcessingFailed    = "failed"
)

// Incident describes one reported crash event. It is created by an incident
// submission and mutated only by the report pipeline's terminal steps.
type Incident struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	VehicleMake        string     `json:"vehicle_make"`
	VehicleModel       string     `json:"vehicle_model"`
	Statement          string     `json:"statement_of_events"`
	Latitude           string     `json:"latitude"`
	Longitude          string     `json:"longitude"`
	ThreeWordLocation  string     `json:"three_word_location"`
	ImageURLs          []string   `json:"image_urls"`
	VoiceTranscriptURL string     `json:"voice_transcript_url"`
	ContactEmail       string     `json:"contact_email"` // optional delivery override
	CreatedAt          time.Time  `json:"created_at"`
	ProcessingStatus   string     `json:"processing_status"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	LastAttempt        *time.Time `json:"last_attempt,omitempty"`
	ProcessingMS       int64      `json:"processing_ms,omitempty"`
}

// Fields returns the incident's template placeholder values. These take
// precedence over signup fields when merged.
func (i *Incident) Fields() map[string]string {
	f := map[string]string{
		"incident_id":             i.ID,
		"user_id":                 i.UserID,
		"statement_of_events":     i.Statement,
		"incident_date":           i.CreatedAt.UTC().Format("2 January 2006 15:04"),
		"latitude":                i.Latitude,
		"longitude":               i.Longitude,
		"three_word_location":     i.ThreeWordLocation,
		"voice_transcription_url": i.VoiceTranscriptURL,
	}
	if i.VehicleMake != "" {
		f["vehicle_make"] = i.VehicleMake
	}
	if i.VehicleModel != "" {
		f["vehicle_model"] = i.VehicleModel
	}
	for n, url := range i.ImageURLs {
		if n >= 4 {
			break
		}
		f[fmt.Sprintf("image_url_%d", n+1)] = url
	}
	return f
}
