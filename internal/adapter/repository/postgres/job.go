package postgres

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/job"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/snowflake"
)

// JobLogModel is the database DTO for job outcomes.
type JobLogModel struct {
	ID           int64  `gorm:"primaryKey"`
	JobType      string `gorm:"type:varchar(100);index:idx_job_logs_type_created"`
	JobID        string `gorm:"type:varchar(100)"`
	Lane         string `gorm:"type:varchar(50)"`
	Status       string `gorm:"type:varchar(20)"`
	DurationMS   int64
	ErrorMessage string         `gorm:"type:text"`
	Result       datatypes.JSON `gorm:"type:jsonb"`
	AttemptsMade int
	CreatedAt    time.Time `gorm:"index:idx_job_logs_type_created"`
}

func (JobLogModel) TableName() string {
	return "job_logs"
}

// DeadLetterModel is the database DTO for exhausted jobs.
type DeadLetterModel struct {
	ID            int64  `gorm:"primaryKey"`
	OriginalQueue string `gorm:"type:varchar(50)"`
	OriginalJobID string `gorm:"type:varchar(100)"`
	OriginalName  string `gorm:"type:varchar(100)"`
	Payload       datatypes.JSON `gorm:"type:jsonb"`
	Error         string         `gorm:"type:text"`
	AttemptsMade  int
	FailedAt      time.Time `gorm:"index"`
}

func (DeadLetterModel) TableName() string {
	return "dead_letters"
}

type JobLogRepository struct {
	db  *gorm.DB
	ids *snowflake.Node
}

func NewJobLogRepository(db *gorm.DB, ids *snowflake.Node) *JobLogRepository {
	return &JobLogRepository{db: db, ids: ids}
}

func (r *JobLogRepository) Create(ctx context.Context, log *job.Log) error {
	result, err := toJSON(log.Result)
	if err != nil {
		return err
	}
	model := JobLogModel{
		ID:           log.ID,
		JobType:      log.JobType,
		JobID:        log.JobID,
		Lane:         log.Lane,
		Status:       string(log.Status),
		DurationMS:   log.DurationMS,
		ErrorMessage: log.ErrorMessage,
		Result:       result,
		AttemptsMade: log.AttemptsMade,
		CreatedAt:    log.CreatedAt,
	}
	if model.ID == 0 {
		model.ID = r.ids.GenerateID()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	log.ID = model.ID
	return nil
}

func (r *JobLogRepository) ListRecent(ctx context.Context, jobType string, limit int) ([]*job.Log, error) {
	var models []JobLogModel
	err := r.db.WithContext(ctx).
		Where("job_type = ?", jobType).
		Order("created_at desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return jobLogsToDomain(models)
}

func (r *JobLogRepository) ListSince(ctx context.Context, jobType string, since time.Time) ([]*job.Log, error) {
	var models []JobLogModel
	err := r.db.WithContext(ctx).
		Where("job_type = ? AND created_at >= ?", jobType, since).
		Order("created_at desc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return jobLogsToDomain(models)
}

func (r *JobLogRepository) SuccessRate(ctx context.Context, since time.Time) (int64, int64, error) {
	var completed, failed int64
	err := r.db.WithContext(ctx).Model(&JobLogModel{}).
		Where("created_at >= ? AND status = ?", since, string(job.StatusCompleted)).
		Count(&completed).Error
	if err != nil {
		return 0, 0, err
	}
	err = r.db.WithContext(ctx).Model(&JobLogModel{}).
		Where("created_at >= ? AND status <> ?", since, string(job.StatusCompleted)).
		Count(&failed).Error
	if err != nil {
		return 0, 0, err
	}
	return completed, failed, nil
}

// DeleteBefore prunes job outcomes older than the cutoff, returning
// the number of rows removed. Used by the maintenance cleanup job.
func (r *JobLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&JobLogModel{})
	return result.RowsAffected, result.Error
}

type DeadLetterRepository struct {
	db  *gorm.DB
	ids *snowflake.Node
}

func NewDeadLetterRepository(db *gorm.DB, ids *snowflake.Node) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, ids: ids}
}

func (r *DeadLetterRepository) Create(ctx context.Context, entry *job.DeadLetter) error {
	payload, err := toJSON(entry.Payload)
	if err != nil {
		return err
	}
	model := DeadLetterModel{
		ID:            entry.ID,
		OriginalQueue: entry.OriginalQueue,
		OriginalJobID: entry.OriginalJobID,
		OriginalName:  entry.OriginalName,
		Payload:       payload,
		Error:         entry.Error,
		AttemptsMade:  entry.AttemptsMade,
		FailedAt:      entry.FailedAt,
	}
	if model.ID == 0 {
		model.ID = r.ids.GenerateID()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	entry.ID = model.ID
	return nil
}

func (r *DeadLetterRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&DeadLetterModel{}).
		Where("failed_at >= ?", since).
		Count(&count).Error
	return count, err
}

func (r *DeadLetterRepository) ListRecent(ctx context.Context, limit int) ([]*job.DeadLetter, error) {
	var models []DeadLetterModel
	err := r.db.WithContext(ctx).
		Order("failed_at desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*job.DeadLetter, 0, len(models))
	for _, model := range models {
		entry, err := deadLetterToDomain(model)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Mappers

func jobLogsToDomain(models []JobLogModel) ([]*job.Log, error) {
	logs := make([]*job.Log, 0, len(models))
	for _, model := range models {
		var result map[string]any
		if len(model.Result) > 0 {
			if err := json.Unmarshal(model.Result, &result); err != nil {
				return nil, err
			}
		}
		logs = append(logs, &job.Log{
			ID:           model.ID,
			JobType:      model.JobType,
			JobID:        model.JobID,
			Lane:         model.Lane,
			Status:       job.Status(model.Status),
			DurationMS:   model.DurationMS,
			ErrorMessage: model.ErrorMessage,
			Result:       result,
			AttemptsMade: model.AttemptsMade,
			CreatedAt:    model.CreatedAt,
		})
	}
	return logs, nil
}

func deadLetterToDomain(model DeadLetterModel) (*job.DeadLetter, error) {
	var payload map[string]any
	if len(model.Payload) > 0 {
		if err := json.Unmarshal(model.Payload, &payload); err != nil {
			return nil, err
		}
	}
	return &job.DeadLetter{
		ID:            model.ID,
		OriginalQueue: model.OriginalQueue,
		OriginalJobID: model.OriginalJobID,
		OriginalName:  model.OriginalName,
		Payload:       payload,
		Error:         model.Error,
		AttemptsMade:  model.AttemptsMade,
		FailedAt:      model.FailedAt,
	}, nil
}
