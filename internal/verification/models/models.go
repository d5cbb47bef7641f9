// Package models holds the patient verification domain types.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "optout/pkg/domain-errors"
)

// IdentifierLength is the length of a national patient identifier.
const IdentifierLength = 10

// NotificationPreference is how the patient wants validation codes delivered.
type NotificationPreference string

const (
	NotificationNone  NotificationPreference = "none"
	NotificationSMS   NotificationPreference = "sms"
	NotificationEmail NotificationPreference = "email"
)

func (p NotificationPreference) IsValid() bool {
	switch p {
	case NotificationNone, NotificationSMS, NotificationEmail:
		return true
	}
	return false
}

// ParseNotificationPreference is case-insensitive. The caller must state a preference;
// "none" is an explicit choice, not a default.
func ParseNotificationPreference(s string) (NotificationPreference, error) {
	p := NotificationPreference(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "notification preference must be one of none, sms, email")
	}
	return p, nil
}

// TrustLevel classifies the caller after the authorization gate.
type TrustLevel string

const (
	TrustStaff     TrustLevel = "staff"
	TrustAnonymous TrustLevel = "anonymous"
)

// Demographics is the registry snapshot stored with a patient.
type Demographics struct {
	GivenName   string
	FamilyName  string
	DateOfBirth time.Time
	AddressLine string
	Postcode    string
	Email       string
	Phone       string
}

// Patient is the subject of verification.
//
// ValidationCode carries the plaintext only for the request that issued it, so the
// notifier can deliver it; stores persist ValidationCodeHash and never the plaintext.
//
// An invalidated code keeps ValidationCodeExpiresOn: the code can no longer be matched,
// but its window still counts against the retry budget until it lapses.
// DecisionTokenHash is set by a successful match and authorizes exactly one decision.
type Patient struct {
	ID                      uuid.UUID
	Identifier              string
	Demographics            Demographics
	ValidationCode          string
	ValidationCodeHash      []byte
	ValidationCodeExpiresOn *time.Time
	ValidationCodeMatchedOn *time.Time
	DecisionTokenHash       []byte
	RetryCount              int
	VerifyFailures          int
	NotificationPreference  NotificationPreference
	Version                 int64
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// HasOutstandingCode reports whether a code has been issued and not cleared.
func (p *Patient) HasOutstandingCode() bool {
	return len(p.ValidationCodeHash) > 0 && p.ValidationCodeExpiresOn != nil
}

func (p *Patient) IsMatched() bool {
	return p.ValidationCodeMatchedOn != nil
}

// InvalidateCode makes the outstanding code unusable but keeps its expiry, so the
// record still reads as holding a live code window.
func (p *Patient) InvalidateCode() {
	p.ValidationCode = ""
	p.ValidationCodeHash = nil
	p.DecisionTokenHash = nil
}

// ClearCode retires the code together with its window. The match time is kept.
func (p *Patient) ClearCode() {
	p.InvalidateCode()
	p.ValidationCodeExpiresOn = nil
}

// Clone returns a deep copy.
func (p *Patient) Clone() *Patient {
	if p == nil {
		return nil
	}
	c := *p
	c.ValidationCodeHash = slices.Clone(p.ValidationCodeHash)
	c.DecisionTokenHash = slices.Clone(p.DecisionTokenHash)
	if p.ValidationCodeExpiresOn != nil {
		t := *p.ValidationCodeExpiresOn
		c.ValidationCodeExpiresOn = &t
	}
	if p.ValidationCodeMatchedOn != nil {
		t := *p.ValidationCodeMatchedOn
		c.ValidationCodeMatchedOn = &t
	}
	return &c
}

// Caller is everything the authorization gate knows about who is asking.
type Caller struct {
	Authenticated bool
	StaffID       string
	Roles         []string
	CaptchaToken  string
	RemoteIP      string
}

func StaffCaller(staffID string, roles []string) Caller {
	return Caller{Authenticated: true, StaffID: staffID, Roles: roles}
}

func AnonymousCaller(captchaToken, remoteIP string) Caller {
	return Caller{CaptchaToken: captchaToken, RemoteIP: remoteIP}
}

// HasAnyRole reports whether the caller holds at least one of roles.
func (c Caller) HasAnyRole(roles []string) bool {
	for _, r := range c.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

// Actor names the caller on audit events and decisions.
func (c Caller) Actor() string {
	if c.Authenticated {
		return c.StaffID
	}
	return "self"
}

// IssuePath records which rule of the workflow produced a code.
type IssuePath string

const (
	PathCreated        IssuePath = "created"
	PathStaffOverride  IssuePath = "staff_override"
	PathExpiredReset   IssuePath = "expired_reset"
	PathAnonymousRetry IssuePath = "anonymous_retry"
)
