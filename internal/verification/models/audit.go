package models

// Audit actions emitted by the verification workflow.
const (
	AuditCodeIssued       = "verification_code_issued"
	AuditRefused          = "verification_refused"
	AuditCodeMatched      = "verification_code_matched"
	AuditCodeMismatch     = "verification_code_mismatch"
	AuditRetriesReset     = "retries_reset"
	AuditDecisionRecorded = "decision_recorded"
)
