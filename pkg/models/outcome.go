package models

type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

const (
	ReasonUnauthorized = "unauthorized"
	ReasonRateLimited  = "rate_limited"
	ReasonOversized    = "oversized"
	ReasonEmptyContent = "empty_content"
	ReasonInvalid      = "invalid_event"
	ReasonStorageError = "storage_error"
	ReasonCanceled     = "canceled"
	ReasonPanic        = "internal_error"
)

// Outcome is the terminal result of one event.
type Outcome struct {
	Status      Status        `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Verdict     *FraudVerdict `json:"verdict,omitempty"`
	Degraded    bool          `json:"degraded,omitempty"`
	Extracted   string        `json:"extracted_text,omitempty"`
}

func Rejected(reason string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason}
}

func Failed(reason string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}

func (o Outcome) Flagged() bool {
	return o.Verdict != nil && o.Verdict.Flagged
}
