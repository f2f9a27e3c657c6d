package httperror

// Error codes returned in the error_code field. Clients branch on these, so
// they are append-only.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidAmount        = "invalid_amount"
	CodeInvalidKiosk         = "invalid_kiosk"
	CodeNotFound             = "not_found"
	CodeExpired              = "expired"
	CodeAlreadyProcessed     = "already_processed"
	CodeNullifierReused      = "nullifier_reused"
	CodeVerificationRejected = "verification_rejected"
	CodeJobOwnershipMismatch = "job_ownership_mismatch"
	CodeJobNotInProgress     = "job_not_in_progress"
)
