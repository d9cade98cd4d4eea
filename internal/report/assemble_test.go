package report

import (
	"testing"

	"github.com/carcrashlawyerai/backend/internal/model"
)

func TestMergeIncidentWins(t *testing.T) {
	signup := &model.Signup{
		ID:          "user-1",
		Email:       "driver@x.com",
		FullName:    "Alice Example",
		VehicleMake: "Tesla",
	}
	incident := &model.Incident{
		ID:        "inc-1",
		UserID:    "user-1",
		Statement: "Rear-ended at a junction.",
	}

	fields := Merge(signup, incident)

	// The incident carries no vehicle make, so the signup value survives.
	if fields["vehicle_make"] != "Tesla" {
		t.Errorf("vehicle_make = %q, want Tesla", fields["vehicle_make"])
	}
	if fields["statement_of_events"] != "Rear-ended at a junction." {
		t.Errorf("statement_of_events = %q", fields["statement_of_events"])
	}
	if fields["user_full_name"] != "Alice Example" {
		t.Errorf("user_full_name = %q", fields["user_full_name"])
	}

	// An incident-level make overrides the signup's.
	incident.VehicleMake = "Ford"
	fields = Merge(signup, incident)
	if fields["vehicle_make"] != "Ford" {
		t.Errorf("vehicle_make = %q, want incident value Ford", fields["vehicle_make"])
	}
}

func TestMergeImageSlots(t *testing.T) {
	signup := &model.Signup{ID: "user-1"}
	incident := &model.Incident{
		ID:     "inc-1",
		UserID: "user-1",
		ImageURLs: []string{
			"https://img/1.jpg", "https://img/2.jpg", "https://img/3.jpg",
			"https://img/4.jpg", "https://img/5.jpg",
		},
	}

	fields := Merge(signup, incident)
	if fields["image_url_1"] != "https://img/1.jpg" || fields["image_url_4"] != "https://img/4.jpg" {
		t.Errorf("image slots = %q, %q", fields["image_url_1"], fields["image_url_4"])
	}
	if _, ok := fields["image_url_5"]; ok {
		t.Error("expected at most four image slots")
	}
}

func TestMergeEnrichmentFields(t *testing.T) {
	signup := &model.Signup{ID: "user-1", FuelType: "Petrol"}
	incident := &model.Incident{ID: "inc-1", UserID: "user-1"}

	fields := Merge(signup, incident)
	if _, ok := fields["fuel_type"]; ok {
		t.Error("unenriched signup should not expose registry fields")
	}

	now := incident.CreatedAt
	signup.EnrichedAt = &now
	fields = Merge(signup, incident)
	if fields["fuel_type"] != "Petrol" {
		t.Errorf("fuel_type = %q, want Petrol", fields["fuel_type"])
	}
}

func TestRecipient(t *testing.T) {
	signup := &model.Signup{Email: "driver@x.com"}
	incident := &model.Incident{}

	if got := Recipient(incident, signup, "accounts@carcrashlawyerai.com"); got != "driver@x.com" {
		t.Errorf("recipient = %q, want signup address", got)
	}

	incident.ContactEmail = "other@x.com"
	if got := Recipient(incident, signup, "accounts@carcrashlawyerai.com"); got != "other@x.com" {
		t.Errorf("recipient = %q, want incident override", got)
	}

	incident.ContactEmail = ""
	signup.Email = ""
	if got := Recipient(incident, signup, "accounts@carcrashlawyerai.com"); got != "accounts@carcrashlawyerai.com" {
		t.Errorf("recipient = %q, want internal fallback", got)
	}
}
