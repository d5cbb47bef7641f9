package service

import (
	"optout/internal/verification/models"
	strutil "optout/pkg/string"
	"optout/pkg/validation"
)

func validIdentifier(identifier string) bool {
	return len(identifier) == models.IdentifierLength && strutil.IsDigits(identifier)
}

var recordRules = validation.Rules[*models.RecordPatientInformationRequest]{
	{Field: "identifier", Message: "is required", Check: func(r *models.RecordPatientInformationRequest) bool {
		return r.Identifier != ""
	}},
	{Field: "identifier", Message: "must be exactly 10 digits", Check: func(r *models.RecordPatientInformationRequest) bool {
		return validIdentifier(r.Identifier)
	}},
	{Field: "notification_preference", Message: "must be one of none, sms, email", Check: func(r *models.RecordPatientInformationRequest) bool {
		_, err := models.ParseNotificationPreference(r.NotificationPreference)
		return err == nil
	}},
}

func verifyRules(codeLength int) validation.Rules[*models.VerifyCodeRequest] {
	return validation.Rules[*models.VerifyCodeRequest]{
		{Field: "identifier", Message: "must be exactly 10 digits", Check: func(r *models.VerifyCodeRequest) bool {
			return validIdentifier(r.Identifier)
		}},
		{Field: "code", Message: "is required", Check: func(r *models.VerifyCodeRequest) bool {
			return r.Code != ""
		}},
		{Field: "code", Message: "must be a numeric code of the issued length", Check: func(r *models.VerifyCodeRequest) bool {
			return len(r.Code) == codeLength && strutil.IsDigits(r.Code)
		}},
	}
}

var identifierRules = validation.Rules[string]{
	{Field: "identifier", Message: "must be exactly 10 digits", Check: validIdentifier},
}
