package models

import (
	"strings"
	"time"
)

// RecordPatientInformationRequest asks for a validation code to be issued.
type RecordPatientInformationRequest struct {
	Identifier             string `json:"identifier"`
	NotificationPreference string `json:"notification_preference"`
	ForceNewCode           bool   `json:"force_new_code"`
	CaptchaToken           string `json:"captcha_token,omitempty"`
}

func (r *RecordPatientInformationRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.NotificationPreference = strings.ToLower(strings.TrimSpace(r.NotificationPreference))
}

// VerifyCodeRequest presents a validation code for a patient.
type VerifyCodeRequest struct {
	Identifier   string `json:"identifier"`
	Code         string `json:"code"`
	CaptchaToken string `json:"captcha_token,omitempty"`
}

func (r *VerifyCodeRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Code = strings.TrimSpace(r.Code)
}

// VerifyResult is returned by a successful match. DecisionToken authorizes one decision
// for the patient and is never stored in plaintext.
type VerifyResult struct {
	DecisionToken string `json:"decision_token"`
}

// Status is the staff view of a patient's verification state.
type Status struct {
	Identifier             string                 `json:"identifier"`
	RetryCount             int                    `json:"retry_count"`
	MaxRetries             int                    `json:"max_retries"`
	RetriesExhausted       bool                   `json:"retries_exhausted"`
	ActiveCode             bool                   `json:"active_code"`
	CodeExpiresOn          *time.Time             `json:"code_expires_on,omitempty"`
	MatchedOn              *time.Time             `json:"matched_on,omitempty"`
	NotificationPreference NotificationPreference `json:"notification_preference"`
	UpdatedAt              time.Time              `json:"updated_at"`
}
