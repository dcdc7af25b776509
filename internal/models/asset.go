package models

import "time"

// Asset is a published, durable item created by approving a submission.
// SourceSubmissionID is informational only; retention never cascades into
// assets.
type Asset struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Title              string    `gorm:"size:255;not null" json:"title"`
	Description        string    `gorm:"type:text" json:"description,omitempty"`
	Category           Category  `gorm:"type:varchar(32);not null;index" json:"category"`
	DurableURL         string    `gorm:"size:1024;not null" json:"durable_url"`
	DurableKey         string    `gorm:"size:512;not null" json:"durable_key"`
	MimeType           string    `gorm:"size:100;not null" json:"mime_type"`
	SizeBytes          int64     `gorm:"not null" json:"size_bytes"`
	SourceSubmissionID uint      `gorm:"not null;index" json:"source_submission_id"`
	CreatedAt          time.Time `json:"created_at"`
}

func (Asset) TableName() string { return "assets" }
