package models

import "time"

// Seat statuses as reported by the class catalog.
const (
	SeatStatusOpen   = "Open"
	SeatStatusClosed = "Closed"
)

// Watch links a user to a class whose seat availability is being tracked.
// Rows are never hard-deleted: removing a watch flips IsActive off so that
// notification history survives.
type Watch struct {
	ID          uint64 `json:"id"`
	UserID      uint64 `json:"userId"`
	ClassID     uint64 `json:"classId"`
	ClassNumber string `json:"classNumber"`
	Email       string `json:"email"`

	LastStatus         string     `json:"lastStatus"`
	LastCheckedAt      *time.Time `json:"lastCheckedAt,omitempty"`
	NotificationSentAt *time.Time `json:"notificationSentAt,omitempty"`
	NotificationCount  int32      `json:"notificationCount"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type WatchCreateInput struct {
	UserID      uint64
	ClassID     uint64
	ClassNumber string
	Email       string
}

// NotificationStats is the aggregate view exposed on the API.
type NotificationStats struct {
	ActiveWatches     int64 `json:"activeWatches"`
	NotificationsSent int64 `json:"notificationsSent"`
	WatchesOpen       int64 `json:"watchesOpen"`
	WatchesClosed     int64 `json:"watchesClosed"`
}
