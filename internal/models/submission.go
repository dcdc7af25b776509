package models

import (
	"strings"
	"time"
)

// SubmissionStatus defines lifecycle states for user submissions.
type SubmissionStatus string

const (
	// SubmissionStatusPending indicates the submission is awaiting review.
	SubmissionStatusPending SubmissionStatus = "pending"
	// SubmissionStatusApproved indicates the submission was published.
	SubmissionStatusApproved SubmissionStatus = "approved"
	// SubmissionStatusRejected indicates the submission was denied.
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionStatusPending, SubmissionStatusApproved, SubmissionStatusRejected:
		return true
	}
	return false
}

// ParseSubmissionStatus normalizes a query/form value into a status.
func ParseSubmissionStatus(raw string) (SubmissionStatus, bool) {
	s := SubmissionStatus(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Category partitions submissions and durable assets.
type Category string

const (
	CategoryOfficial  Category = "official"
	CategoryAnime     Category = "anime"
	CategoryWallpaper Category = "wallpaper"
	CategoryFanart    Category = "fanart"
)

// Categories lists every accepted category in display order.
var Categories = []Category{CategoryOfficial, CategoryAnime, CategoryWallpaper, CategoryFanart}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	return c, c.Valid()
}

// PendingSubmission is a user upload awaiting or past moderation. The row
// outlives the decision: approved rows keep pointing at the durable URL,
// rejected rows keep their staged bytes until retention removes both.
type PendingSubmission struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	Title            string           `gorm:"size:255;not null" json:"title"`
	Description      string           `gorm:"type:text" json:"description,omitempty"`
	Category         Category         `gorm:"type:varchar(32);not null;index" json:"category"`
	OriginalFilename string           `gorm:"size:255;not null" json:"original_filename"`
	FileSizeBytes    int64            `gorm:"not null" json:"file_size_bytes"`
	MimeType         string           `gorm:"size:100;not null" json:"mime_type"`
	StagedPath       string           `gorm:"size:512" json:"staged_path,omitempty"`
	PublicURL        string           `gorm:"size:1024" json:"public_url"`
	Status           SubmissionStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_submissions_status_created,priority:1" json:"status"`
	RejectReason     string           `gorm:"type:text" json:"reject_reason,omitempty"`
	SubmitterID      uint             `gorm:"not null;index" json:"submitter_id"`
	ReviewerID       *uint            `json:"reviewer_id,omitempty"`
	ReviewedAt       *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time        `gorm:"index:idx_submissions_status_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (PendingSubmission) TableName() string { return "pending_submissions" }

// StatusCounts is the per-status tally of submissions.
type StatusCounts struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Total    int64 `json:"total"`
}
