package domain

// Entity type constants for mismatch and correction records
const (
	EntityTypeSwap    = "swap"
	EntityTypeBooking = "booking"
)

// EntityMismatch records one entity whose actual status diverges from the
// status the orchestrator expected. JSON tags define the shape persisted
// inside the audit row's validation columns.
type EntityMismatch struct {
	EntityType     string `json:"entity_type"` // swap | booking
	EntityID       string `json:"entity_id"`
	ExpectedStatus string `json:"expected_status"`
	ActualStatus   string `json:"actual_status"`
}

// CorrectionAttempt records one bounded corrective write. Created only by the
// correction engine; immutable once folded into the audit record.
type CorrectionAttempt struct {
	EntityType     string  `json:"entity_type"` // swap | booking
	EntityID       string  `json:"entity_id"`
	ExpectedStatus string  `json:"expected_status"`
	ActualStatus   string  `json:"actual_status"` // status observed before the corrective write
	Applied        bool    `json:"applied"`       // whether the write succeeded
	Error          *string `json:"error,omitempty"`
}

// CompletionValidationResult is the outcome of one validator pass.
// Errors block the completion; warnings do not.
type CompletionValidationResult struct {
	IsValid              bool                `json:"is_valid"`
	Errors               []string            `json:"errors,omitempty"`
	Warnings             []string            `json:"warnings,omitempty"`
	InconsistentEntities []EntityMismatch    `json:"inconsistent_entities,omitempty"`
	CorrectionAttempts   []CorrectionAttempt `json:"correction_attempts,omitempty"` // empty until the correction engine runs
}

// AddError appends a blocking error and marks the result invalid.
func (r *CompletionValidationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.IsValid = false
}

// AddWarning appends a non-blocking warning.
func (r *CompletionValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddMismatch records a status divergence as both a blocking error and an
// inconsistent-entity entry for the correction engine.
func (r *CompletionValidationResult) AddMismatch(m EntityMismatch) {
	r.InconsistentEntities = append(r.InconsistentEntities, m)
	r.AddError(m.EntityType + " " + m.EntityID + ": expected status " + m.ExpectedStatus + ", found " + m.ActualStatus)
}

// FullyCorrected reports whether every inconsistent entity carries a
// successful correction attempt.
func (r *CompletionValidationResult) FullyCorrected() bool {
	if len(r.InconsistentEntities) == 0 {
		return true
	}
	applied := make(map[string]bool, len(r.CorrectionAttempts))
	for _, a := range r.CorrectionAttempts {
		if a.Applied {
			applied[a.EntityType+"/"+a.EntityID] = true
		}
	}
	for _, m := range r.InconsistentEntities {
		if !applied[m.EntityType+"/"+m.EntityID] {
			return false
		}
	}
	return true
}
