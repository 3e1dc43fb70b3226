package domain

// EventError ties a failure to the batch position of the event that caused it.
type EventError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ProcessingResult aggregates the outcome of one batch call.
// Invariant: SuccessCount + FailureCount equals the number of input events,
// regardless of the order in which per-event work resolved.
type ProcessingResult struct {
	SuccessCount     int          `json:"successCount"`
	FailureCount     int          `json:"failureCount"`
	Errors           []EventError `json:"errors"`
	ProcessingTimeMs int64        `json:"processingTimeMs"`
	RetryCount       int          `json:"retryCount,omitempty"`
}

// Ack is the response body for a successfully ingested single event.
type Ack struct {
	EventID   string `json:"eventId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
