package domain

import (
	"encoding/json"
	"time"
)

type UserID string

type EventKind string

const (
	EventTip               EventKind = "tip"
	EventChatMessage       EventKind = "chatMessage"
	EventPrivateMessage    EventKind = "privateMessage"
	EventUserEnter         EventKind = "userEnter"
	EventUserLeave         EventKind = "userLeave"
	EventFollow            EventKind = "follow"
	EventUnfollow          EventKind = "unfollow"
	EventFanclubJoin       EventKind = "fanclubJoin"
	EventMediaPurchase     EventKind = "mediaPurchase"
	EventBroadcastStart    EventKind = "broadcastStart"
	EventBroadcastStop     EventKind = "broadcastStop"
	EventRoomSubjectChange EventKind = "roomSubjectChange"
)

// Event is a normalized platform event. Immutable once received; consumed
// exactly once by the resolver.
type Event struct {
	ID          string          `json:"id"`
	Kind        EventKind       `json:"kind"`
	UserID      UserID          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Message     string          `json:"message,omitempty"`
	Tokens      int             `json:"tokens,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}
