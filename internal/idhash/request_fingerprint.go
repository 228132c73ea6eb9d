package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
)

// ComputeRequestFingerprint computes a deterministic identity for a
// completion request using SHA256.
// Formula: SHA256(proposal_id|completion_type|initiated_by|swap_ids|booking_ids)
// Returns hex-encoded hash (64 characters).
func ComputeRequestFingerprint(req *domain.CompletionRequest) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		req.ProposalID,
		req.CompletionType.String(),
		req.InitiatedBy,
		strings.Join(req.SwapIDs, ","),
		strings.Join(req.BookingIDs, ","),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
