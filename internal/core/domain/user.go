package domain

import "time"

// UserRecord is the per-user state owned by the store. Mutated only through
// the guard's commit path. Version supports optimistic-conflict detection.
type UserRecord struct {
	ID            UserID               `json:"id"`
	DisplayName   string               `json:"display_name,omitempty"`
	IsVIP         bool                 `json:"is_vip"`
	IsAdmin       bool                 `json:"is_admin"`
	Balance       int                  `json:"balance"`
	AudioFile     string               `json:"audio_file,omitempty"`
	LastTriggerAt map[string]time.Time `json:"last_trigger_at,omitempty"`
	Version       int64                `json:"version"`
	RefreshedAt   time.Time            `json:"refreshed_at"`
}

// NewUserRecord returns the default record created on first read.
func NewUserRecord(id UserID) *UserRecord {
	return &UserRecord{
		ID:            id,
		LastTriggerAt: make(map[string]time.Time),
		RefreshedAt:   time.Now(),
	}
}

// Clone returns a deep copy safe to mutate before a commit.
func (u *UserRecord) Clone() *UserRecord {
	cp := *u
	cp.LastTriggerAt = make(map[string]time.Time, len(u.LastTriggerAt))
	for k, v := range u.LastTriggerAt {
		cp.LastTriggerAt[k] = v
	}
	return &cp
}

// UserTxn carries a mutated record plus the version observed at read time.
// The store rejects the commit when the stored version no longer matches.
type UserTxn struct {
	Record       *UserRecord
	ReadVersion  int64
}
