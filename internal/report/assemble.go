package report

import (
	"errors"

	"github.com/carcrashlawyerai/backend/internal/model"
)

// ErrNotFound means a referenced record is absent. The pipeline aborts before
// any ledger write when it sees this.
var ErrNotFound = errors.New("record not found")

// Merge flattens a signup and its incident into one template field set.
// Incident fields win on key collision.
func Merge(signup *model.Signup, incident *model.Incident) map[string]string {
	merged := make(map[string]string)
	for k, v := range signup.Fields() {
		merged[k] = v
	}
	for k, v := range incident.Fields() {
		merged[k] = v
	}
	return merged
}

// Recipient resolves the delivery address: the incident-specific override
// first, then the signup contact address, then the internal fallback.
func Recipient(incident *model.Incident, signup *model.Signup, fallback string) string {
	if incident.ContactEmail != "" {
		return incident.ContactEmail
	}
	if signup.Email != "" {
		return signup.Email
	}
	return fallback
}
