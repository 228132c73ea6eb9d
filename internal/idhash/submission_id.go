package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeSubmissionID computes a deterministic ledger submission id using SHA256.
// Formula: SHA256(audit_id|proposal_id|completion_type)
// Stable across retries of the same attempt, so the ledger gateway can
// deduplicate resubmissions after a transient failure.
// Returns hex-encoded hash (64 characters).
func ComputeSubmissionID(auditID, proposalID, completionType string) string {
	data := fmt.Sprintf("%s|%s|%s",
		auditID,
		proposalID,
		completionType,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
