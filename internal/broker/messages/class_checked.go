package messages

import "time"

// ClassChecked is published by the worker after every settled status check
// and consumed by the API process to refresh its current-status cache.
type ClassChecked struct {
	WatchID     uint64    `json:"watch_id"`
	ClassNumber string    `json:"class_number"`
	CheckedAt   time.Time `json:"checked_at"`

	SeatStatus string `json:"seat_status,omitempty"`
	Notified   bool   `json:"notified,omitempty"`

	Error *string `json:"error,omitempty"`
}
