package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/carcrashlawyerai/backend/internal/geocode"
	"github.com/carcrashlawyerai/backend/internal/model"
	"github.com/carcrashlawyerai/backend/internal/store"
)

// WebhookHandler accepts form-submission webhooks and creates signup and
// incident records. The report pipeline picks new incidents up from the
// dispatcher; the HTTP response never waits on it.
type WebhookHandler struct {
	signupStore   *store.SignupStore
	incidentStore *store.IncidentStore
	geocoder      *geocode.Client
	logger        *slog.Logger
}

func NewWebhookHandler(ss *store.SignupStore, is *store.IncidentStore, geocoder *geocode.Client, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		signupStore:   ss,
		incidentStore: is,
		geocoder:      geocoder,
		logger:        logger,
	}
}

// formPayload is the form provider's webhook shape.
type formPayload struct {
	EventID      string `json:"event_id"`
	FormResponse *struct {
		Token   string            `json:"token"`
		Hidden  map[string]string `json:"hidden"`
		Answers []formAnswer      `json:"answers"`
	} `json:"form_response"`
}

type formAnswer struct {
	Type  string `json:"type"`
	Field struct {
		ID  string `json:"id"`
		Ref string `json:"ref"`
	} `json:"field"`
	Text        string   `json:"text"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phone_number"`
	Date        string   `json:"date"`
	FileURL     string   `json:"file_url"`
	Boolean     *bool    `json:"boolean"`
	Number      *float64 `json:"number"`
	Choice      struct {
		Label string `json:"label"`
	} `json:"choice"`
}

func (a formAnswer) value() string {
	switch a.Type {
	case "email":
		return a.Email
	case "phone_number":
		return a.PhoneNumber
	case "date":
		return a.Date
	case "file_url":
		return a.FileURL
	case "boolean":
		if a.Boolean != nil && *a.Boolean {
			return "true"
		}
		return "false"
	case "number":
		if a.Number != nil {
			return fmt.Sprintf("%g", *a.Number)
		}
		return ""
	case "choice":
		return a.Choice.Label
	default:
		return a.Text
	}
}

// flatten keys every answer by both field id and field ref, then overlays the
// hidden fields.
func (p *formPayload) flatten() map[string]string {
	fields := make(map[string]string)
	for _, a := range p.FormResponse.Answers {
		v := a.value()
		if a.Field.ID != "" {
			fields[a.Field.ID] = v
		}
		if a.Field.Ref != "" {
			fields[a.Field.Ref] = v
		}
	}
	for k, v := range p.FormResponse.Hidden {
		fields[k] = v
	}
	return fields
}

// fileURLs collects file-upload answers in form order.
func (p *formPayload) fileURLs() []string {
	var urls []string
	for _, a := range p.FormResponse.Answers {
		if a.Type == "file_url" && a.FileURL != "" {
			urls = append(urls, a.FileURL)
		}
	}
	return urls
}

func decodeFormPayload(r *http.Request) (*formPayload, map[string]string, error) {
	var payload formPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if payload.FormResponse == nil || len(payload.FormResponse.Answers) == 0 {
		return nil, nil, fmt.Errorf("missing form_response answers")
	}
	return &payload, payload.flatten(), nil
}

// HandleSignup creates a signup record from a form submission.
func (h *WebhookHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	_, fields, err := decodeFormPayload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	signup, err := h.signupStore.Create(model.Signup{
		Email:             fields["email"],
		FullName:          fields["full_name"],
		Phone:             fields["phone_number"],
		RegistrationPlate: fields["registration_plate"],
		VehicleMake:       fields["vehicle_make"],
		VehicleModel:      fields["vehicle_model"],
		VehicleColour:     fields["vehicle_colour"],
	})
	if err != nil {
		h.logger.Error("failed to create signup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create signup"})
		return
	}

	h.logger.Info("signup created", "doc_id", signup.ID, "email", signup.Email)
	writeJSON(w, http.StatusCreated, map[string]string{"id": signup.ID})
}

// HandleIncident creates an incident record from a form submission. The
// three-word location is resolved in the background after the response.
func (h *WebhookHandler) HandleIncident(w http.ResponseWriter, r *http.Request) {
	payload, fields, err := decodeFormPayload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	userID := fields["user_id"]
	if userID == "" {
		userID = fields["user_id_hidden_field"]
	}
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user_id"})
		return
	}

	incident, err := h.incidentStore.Create(model.Incident{
		UserID:             userID,
		VehicleMake:        fields["vehicle_make"],
		VehicleModel:       fields["vehicle_model"],
		Statement:          fields["statement_of_events"],
		Latitude:           fields["latitude"],
		Longitude:          fields["longitude"],
		ImageURLs:          payload.fileURLs(),
		VoiceTranscriptURL: fields["voice_transcription_url"],
		ContactEmail:       fields["contact_email"],
	})
	if err != nil {
		h.logger.Error("failed to create incident", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create incident"})
		return
	}

	if h.geocoder != nil && h.geocoder.Configured() && incident.Latitude != "" && incident.Longitude != "" {
		go h.resolveLocation(incident.ID, incident.Latitude, incident.Longitude)
	}

	h.logger.Info("incident created", "doc_id", incident.ID, "user_id", userID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": incident.ID})
}

// resolveLocation is a fire-and-forget enrichment with its own deadline and
// failure handling, independent of the HTTP response path.
func (h *WebhookHandler) resolveLocation(incidentID, lat, lng string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	words, err := h.geocoder.ThreeWords(ctx, lat, lng)
	if err != nil {
		h.logger.Warn("three-word location lookup failed", "doc_id", incidentID, "error", err)
		return
	}
	if err := h.incidentStore.SetThreeWordLocation(incidentID, words); err != nil {
		h.logger.Error("failed to store three-word location", "doc_id", incidentID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
