package domain

import "time"

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntrySubmitted EntryStatus = "submitted"
	EntryRejected  EntryStatus = "rejected"
	EntryPlayed    EntryStatus = "played"
)

type RejectReason string

const (
	RejectInsufficientFunds RejectReason = "insufficient_funds"
	RejectNotFound          RejectReason = "not_found"
	RejectUnavailable       RejectReason = "unavailable_in_market"
	RejectNoDevice          RejectReason = "no_active_device"
	RejectQueueFull         RejectReason = "queue_full"
	RejectSubmitFailed      RejectReason = "submit_failed"
)

// QueueEntry tracks one song request through its lifecycle. Transitions are
// monotonic: pending -> submitted -> {played} or pending -> rejected.
type QueueEntry struct {
	ID          string       `json:"id"`
	TrackID     string       `json:"track_id,omitempty"`
	Requester   UserID       `json:"requester"`
	Query       string       `json:"query"`
	CostPaid    int          `json:"cost_paid"`
	Status      EntryStatus  `json:"status"`
	Reason      RejectReason `json:"reason,omitempty"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
	SubmittedAt time.Time    `json:"submitted_at,omitempty"`
	// Position as last reported by the external service. Advisory only;
	// never drives a state transition.
	ReportedPosition int `json:"reported_position,omitempty"`
}

type Track struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Artist  string   `json:"artist"`
	Markets []string `json:"markets,omitempty"`
}

type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// SongCacheEntry caches a resolved track for a normalized query. TTL-only
// invalidation.
type SongCacheEntry struct {
	Query      string    `json:"query"`
	TrackID    string    `json:"track_id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	Markets    []string  `json:"markets"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// AvailableIn reports whether the cached track is playable in the market.
func (e *SongCacheEntry) AvailableIn(market string) bool {
	for _, m := range e.Markets {
		if m == market {
			return true
		}
	}
	return false
}
