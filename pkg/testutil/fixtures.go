package testutil

import (
	"time"

	"github.com/google/uuid"

	"optout/internal/verification/models"
)

// TestIdentifiers are deterministic national identifiers for fixtures.
var TestIdentifiers = struct {
	Patient1 string
	Patient2 string
}{
	Patient1: "1234567890",
	Patient2: "9876543210",
}

// PatientBuilder provides a fluent interface for building test patients.
type PatientBuilder struct {
	patient *models.Patient
}

// NewPatientBuilder creates a patient with demographics and no outstanding code.
func NewPatientBuilder() *PatientBuilder {
	now := time.Now().UTC()
	return &PatientBuilder{
		patient: &models.Patient{
			ID:         uuid.New(),
			Identifier: TestIdentifiers.Patient1,
			Demographics: models.Demographics{
				GivenName:   "Test",
				FamilyName:  "Patient",
				DateOfBirth: time.Date(1980, 5, 17, 0, 0, 0, 0, time.UTC),
				AddressLine: "1 Test Street",
				Postcode:    "LS1 4AP",
				Email:       "test.patient@example.com",
				Phone:       "+447700900123",
			},
			NotificationPreference: models.NotificationSMS,
			Version:                1,
			CreatedAt:              now,
			UpdatedAt:              now,
		},
	}
}

func (b *PatientBuilder) WithIdentifier(identifier string) *PatientBuilder {
	b.patient.Identifier = identifier
	return b
}

func (b *PatientBuilder) WithPreference(p models.NotificationPreference) *PatientBuilder {
	b.patient.NotificationPreference = p
	return b
}

func (b *PatientBuilder) WithContact(email, phone string) *PatientBuilder {
	b.patient.Demographics.Email = email
	b.patient.Demographics.Phone = phone
	return b
}

// WithCode sets an outstanding code hash expiring at expiresOn.
func (b *PatientBuilder) WithCode(hash []byte, expiresOn time.Time) *PatientBuilder {
	b.patient.ValidationCodeHash = hash
	b.patient.ValidationCodeExpiresOn = &expiresOn
	return b
}

func (b *PatientBuilder) MatchedAt(t time.Time) *PatientBuilder {
	b.patient.ValidationCodeMatchedOn = &t
	return b
}

func (b *PatientBuilder) WithRetryCount(n int) *PatientBuilder {
	b.patient.RetryCount = n
	return b
}

func (b *PatientBuilder) WithVerifyFailures(n int) *PatientBuilder {
	b.patient.VerifyFailures = n
	return b
}

func (b *PatientBuilder) Build() *models.Patient {
	return b.patient.Clone()
}
