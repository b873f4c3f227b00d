package domain

import "time"

// ChannelResult is the outcome of delivering a notification over one channel.
type ChannelResult struct {
	Channel   Channel    `json:"channel"`
	Success   bool       `json:"success"`
	MessageID string     `json:"message_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	RetryAt   *time.Time `json:"retry_at,omitempty"`
}

// DispatchResult is the outcome of a single dispatch.
type DispatchResult struct {
	Notification      *Notification   `json:"notification"`
	Channels          []ChannelResult `json:"channels"`
	OverallSuccess    bool            `json:"overall_success"`
	Suppressed        bool            `json:"suppressed"`
	SuppressionReason string          `json:"suppression_reason,omitempty"`
	Error             string          `json:"error,omitempty"`
	Duration          time.Duration   `json:"duration"`
}

// BatchDispatchResult aggregates the dispatches of one queue flush or retry sweep.
type BatchDispatchResult struct {
	Total      int              `json:"total"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []DispatchResult `json:"results"`
	Duration   time.Duration    `json:"duration"`
}

// Add folds a single dispatch result into the batch. Suppressed dispatches count as successful.
func (b *BatchDispatchResult) Add(r DispatchResult) {
	b.Total++
	if r.OverallSuccess {
		b.Successful++
	} else {
		b.Failed++
	}
	b.Results = append(b.Results, r)
}

// QueueStats describes the in-memory dispatch queue.
type QueueStats struct {
	Size       int              `json:"size"`
	InFlight   bool             `json:"in_flight"`
	ByPriority map[Priority]int `json:"by_priority"`
}

// ChannelHealth is the runtime health of a single delivery channel.
type ChannelHealth struct {
	Channel         Channel         `json:"channel"`
	Available       bool            `json:"available"`
	CircuitState    string          `json:"circuit_state"`
	RateLimit       RateLimit       `json:"rate_limit"`
	RateLimitStatus RateLimitStatus `json:"rate_limit_status"`
	LastError       string          `json:"last_error,omitempty"`
	LastCheck       *time.Time      `json:"last_check,omitempty"`
}

// BulkPreferenceResult reports the outcome of an update applied to many preferences.
type BulkPreferenceResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []string     `json:"errors"`
	Updated    []Preference `json:"updated"`
}

// QueueResult is returned when a notification is accepted into the dispatch queue.
// Flushed is set when accepting the notification triggered an immediate flush.
type QueueResult struct {
	Notification Notification         `json:"notification"`
	QueueSize    int                  `json:"queue_size"`
	Flushed      *BatchDispatchResult `json:"flushed,omitempty"`
}
