package utils

import (
	"github.com/google/uuid"
)

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return "evt_" + uuid.NewString()
}

// GenerateEntryID generates a unique queue entry ID
func GenerateEntryID() string {
	return "ent_" + uuid.NewString()
}

// GenerateIdempotencyKey generates the key attached to external queue
// submissions so a retry cannot double-submit.
func GenerateIdempotencyKey() string {
	return "idem_" + uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}
