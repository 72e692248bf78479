package domain

import "time"

type IntentType string

const (
	IntentCommand      IntentType = "command"
	IntentCustomAction IntentType = "custom_action"
	IntentVipTrigger   IntentType = "vip_trigger"
	IntentSongRequest  IntentType = "song_request"
	IntentSkipRequest  IntentType = "skip_request"
)

// Intent is the typed interpretation of a raw event. Derived deterministically,
// never persisted.
type Intent struct {
	Type        IntentType
	Actor       UserID
	DisplayName string

	// Command intents
	Command string
	Args    []string

	// Song request intents
	Query        string
	RequestCount int

	// VIP / custom action intents
	AudioFile  string
	ActionName string
}

type OutcomeStatus string

const (
	OutcomeIgnored   OutcomeStatus = "ignored"
	OutcomeThrottled OutcomeStatus = "throttled"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCompleted OutcomeStatus = "completed"
)

// Outcome is the dispatcher's terminal classification of one event.
type Outcome struct {
	Status    OutcomeStatus
	Intent    IntentType
	Reason    string
	Remaining time.Duration
}

func Ignored() Outcome {
	return Outcome{Status: OutcomeIgnored}
}

func Throttled(intent IntentType, remaining time.Duration) Outcome {
	return Outcome{Status: OutcomeThrottled, Intent: intent, Remaining: remaining}
}

func Failed(intent IntentType, reason string) Outcome {
	return Outcome{Status: OutcomeFailed, Intent: intent, Reason: reason}
}

func Completed(intent IntentType) Outcome {
	return Outcome{Status: OutcomeCompleted, Intent: intent}
}
