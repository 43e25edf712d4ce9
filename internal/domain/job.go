package domain

import "time"

// JobStatus represents the status of an upload job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// UploadJob records the processing of one uploaded video.
// It is a ledger entry only; the video bytes themselves are never kept.
type UploadJob struct {
	ID              string     `gorm:"type:text;primaryKey" json:"id"`
	VideoID         string     `gorm:"type:text;not null;index:idx_upload_jobs_video" json:"video_id"`
	Filename        string     `gorm:"type:text" json:"filename,omitempty"`
	Status          JobStatus  `gorm:"type:text;index:idx_upload_jobs_status;default:pending" json:"status"`
	FramesProcessed int        `gorm:"default:0" json:"frames_processed"`
	Error           string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for UploadJob.
func (UploadJob) TableName() string {
	return "upload_jobs"
}
