package models

import "time"

// NotificationLevel is the severity shown to the user.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// NotificationKind tells the client how to render a notification.
type NotificationKind string

const (
	KindToast          NotificationKind = "toast"
	KindUploadProgress NotificationKind = "upload_progress"
	KindUploadBatch    NotificationKind = "upload_batch"
	KindUploadRejected NotificationKind = "upload_rejected"
)

// UploadProgress is reported after every processed queue item.
type UploadProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	File    string `json:"file,omitempty"`
}

// UploadBatchSummary is emitted when the upload queue drains.
type UploadBatchSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Notification is a fire-and-forget message for one recipient namespace.
type Notification struct {
	Recipient string              `json:"-"`
	Kind      NotificationKind    `json:"kind"`
	Level     NotificationLevel   `json:"level"`
	Message   string              `json:"message"`
	Progress  *UploadProgress     `json:"progress,omitempty"`
	Summary   *UploadBatchSummary `json:"summary,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
}
