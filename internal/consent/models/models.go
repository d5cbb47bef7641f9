package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Choice is the patient's data-sharing decision.
type Choice string

const (
	ChoiceOptIn  Choice = "opt_in"
	ChoiceOptOut Choice = "opt_out"
)

func ParseChoice(raw string) (Choice, error) {
	switch c := Choice(strings.ToLower(strings.TrimSpace(raw))); c {
	case ChoiceOptIn, ChoiceOptOut:
		return c, nil
	default:
		return "", fmt.Errorf("unknown choice %q", raw)
	}
}

// Channel records which portal captured a decision.
type Channel string

const (
	ChannelPublic Channel = "public"
	ChannelStaff  Channel = "staff"
)

// Decision is the current opt-in/opt-out decision for a patient. There is at most one per identifier;
// recording again replaces it.
type Decision struct {
	ID                uuid.UUID
	PatientIdentifier string
	Choice            Choice
	Channel           Channel
	RecordedBy        string
	RecordedAt        time.Time
}

// RecordDecisionRequest carries the decision token returned by the code match.
type RecordDecisionRequest struct {
	Identifier    string `json:"identifier"`
	Choice        string `json:"choice"`
	DecisionToken string `json:"decision_token"`
	CaptchaToken  string `json:"captcha_token,omitempty"`
}

func (r *RecordDecisionRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Choice = strings.ToLower(strings.TrimSpace(r.Choice))
	r.DecisionToken = strings.TrimSpace(r.DecisionToken)
	r.CaptchaToken = strings.TrimSpace(r.CaptchaToken)
}

// DecisionResponse is the JSON shape of a recorded decision.
type DecisionResponse struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Choice     Choice    `json:"choice"`
	Channel    Channel   `json:"channel"`
	RecordedBy string    `json:"recorded_by"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (d *Decision) Response() DecisionResponse {
	return DecisionResponse{
		ID:         d.ID.String(),
		Identifier: d.PatientIdentifier,
		Choice:     d.Choice,
		Channel:    d.Channel,
		RecordedBy: d.RecordedBy,
		RecordedAt: d.RecordedAt,
	}
}
