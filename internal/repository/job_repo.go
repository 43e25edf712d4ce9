package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/framescope/internal/domain"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned when no upload job has the requested id.
var ErrJobNotFound = errors.New("upload job not found")

// JobRepository persists upload jobs.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job.
func (r *JobRepository) Create(ctx context.Context, job *domain.UploadJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.UploadJob: job if found.
//   - error: ErrJobNotFound if missing, other errors if lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.UploadJob, error) {
	var job domain.UploadJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// VideoInUse reports whether videoID has a completed or still running upload.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - videoID: video namespace to check.
// Returns:
//   - bool: true if the id is taken.
//   - error: non-nil if the query fails.
func (r *JobRepository) VideoInUse(ctx context.Context, videoID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.UploadJob{}).
		Where("video_id = ? AND status IN ?", videoID, []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkRunning moves a job to running and stamps its start time.
func (r *JobRepository) MarkRunning(ctx context.Context, id string) error {
	now := time.Now()
	return r.update(ctx, id, map[string]interface{}{
		"status":     domain.JobStatusRunning,
		"started_at": &now,
	})
}

// MarkCompleted records a successful upload.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, frames int) error {
	now := time.Now()
	return r.update(ctx, id, map[string]interface{}{
		"status":           domain.JobStatusCompleted,
		"frames_processed": frames,
		"completed_at":     &now,
	})
}

// MarkFailed records a failed upload with its error message.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	now := time.Now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.update(ctx, id, map[string]interface{}{
		"status":           domain.JobStatusFailed,
		"frames_processed": 0,
		"error":            msg,
		"completed_at":     &now,
	})
}

func (r *JobRepository) update(ctx context.Context, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.UploadJob{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// FailInterrupted marks jobs left pending or running by a previous process
// as failed, so their video ids can be uploaded again.
// Returns the number of jobs updated.
func (r *JobRepository) FailInterrupted(ctx context.Context) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.UploadJob{}).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusFailed,
			"error":        "interrupted",
			"completed_at": &now,
		})
	return res.RowsAffected, res.Error
}

// ListRecent returns the newest jobs first.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]domain.UploadJob, error) {
	var jobs []domain.UploadJob
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// DeleteAll clears the ledger. Used by a full reset.
func (r *JobRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.UploadJob{}).Error
}
