package model

import "time"

// Payment status values for a signup.
const (
	PaymentPending   = "pending"
	PaymentConfirmed = "confirmed"
)

// Signup is the user-profile record created at registration. It is mutated by
// the payment webhook and by vehicle-registry enrichment, never deleted here.
type Signup struct {
	ID                   string     `json:"id"`
	Email                string     `json:"email"`
	FullName             string     `json:"full_name"`
	Phone                string     `json:"phone"`
	RegistrationPlate    string     `json:"registration_plate"`
	VehicleMake          string     `json:"vehicle_make"`
	VehicleModel         string     `json:"vehicle_model"`
	VehicleColour        string     `json:"vehicle_colour"`
	PaymentStatus        string     `json:"payment_status"`
	PaymentTransactionID string     `json:"payment_transaction_id"`
	EngineCapacity       string     `json:"engine_capacity"`
	FuelType             string     `json:"fuel_type"`
	TaxStatus            string     `json:"tax_status"`
	MOTStatus            string     `json:"mot_status"`
	Mileage              string     `json:"mileage"`
	EnrichedAt           *time.Time `json:"enriched_at,omitempty"`
	EnrichmentFailedAt   *time.Time `json:"enrichment_failed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	ReminderSentAt       *time.Time `json:"reminder_sent_at,omitempty"`
	EscalatedAt          *time.Time `json:"escalated_at,omitempty"`
}

// VehicleEnrichment holds vehicle-registry lookup results merged into a
// signup. Empty Make/Colour leave the user-supplied values untouched.
type VehicleEnrichment struct {
	Make           string
	Colour         string
	EngineCapacity string
	FuelType       string
	TaxStatus      string
	MOTStatus      string
	Mileage        string
}

// Fields returns the signup's template placeholder values.
func (s *Signup) Fields() map[string]string {
	f := map[string]string{
		"user_id":            s.ID,
		"email_text":         s.Email,
		"user_full_name":     s.FullName,
		"phone_number":       s.Phone,
		"registration_plate": s.RegistrationPlate,
		"vehicle_make":       s.VehicleMake,
		"vehicle_model":      s.VehicleModel,
		"vehicle_colour":     s.VehicleColour,
	}
	if s.EnrichedAt != nil {
		f["engine_capacity"] = s.EngineCapacity
		f["fuel_type"] = s.FuelType
		f["tax_status"] = s.TaxStatus
		f["mot_status"] = s.MOTStatus
		f["mileage"] = s.Mileage
	}
	return f
}
