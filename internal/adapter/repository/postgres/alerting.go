// Package postgres holds the gorm-backed repository implementations.
// Each model is a database DTO with mapper functions to and from the
// domain entities.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/snowflake"
)

// AlertRuleModel is the database DTO for alert rules.
type AlertRuleModel struct {
	ID                 int64          `gorm:"primaryKey"`
	Name               string         `gorm:"type:varchar(255)"`
	EventType          string         `gorm:"type:varchar(100);index"`
	Conditions         datatypes.JSON `gorm:"type:jsonb"`
	Severity           string         `gorm:"type:varchar(20)"`
	Channels           datatypes.JSON `gorm:"type:jsonb"`
	CooldownMinutes    int
	BatchWindowMinutes int
	IsActive           bool `gorm:"index"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (AlertRuleModel) TableName() string {
	return "alert_rules"
}

// AlertLogModel is the database DTO for the alert audit trail.
type AlertLogModel struct {
	ID        int64          `gorm:"primaryKey"`
	RuleID    int64          `gorm:"index"`
	EventType string         `gorm:"type:varchar(100);index"`
	Severity  string         `gorm:"type:varchar(20)"`
	Title     string         `gorm:"type:text"`
	Message   string         `gorm:"type:text"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	Channels  datatypes.JSON `gorm:"type:jsonb"`
	Status    string         `gorm:"type:varchar(20);index"`
	SentAt    *time.Time
	ErrorMsg  string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (AlertLogModel) TableName() string {
	return "alert_logs"
}

type AlertRuleRepository struct {
	db *gorm.DB
}

func NewAlertRuleRepository(db *gorm.DB) *AlertRuleRepository {
	return &AlertRuleRepository{db: db}
}

func (r *AlertRuleRepository) ListActive(ctx context.Context, eventType string) ([]*alerting.Rule, error) {
	var models []AlertRuleModel
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND is_active = ?", eventType, true).
		Order("id asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	rules := make([]*alerting.Rule, 0, len(models))
	for _, model := range models {
		rule, err := ruleToDomain(model)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (r *AlertRuleRepository) FindByID(ctx context.Context, id int64) (*alerting.Rule, error) {
	var model AlertRuleModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ruleToDomain(model)
}

type AlertLogRepository struct {
	db  *gorm.DB
	ids *snowflake.Node
}

func NewAlertLogRepository(db *gorm.DB, ids *snowflake.Node) *AlertLogRepository {
	return &AlertLogRepository{db: db, ids: ids}
}

func (r *AlertLogRepository) Create(ctx context.Context, log *alerting.Log) error {
	model, err := logToModel(log)
	if err != nil {
		return err
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

func (r *AlertLogRepository) MarkDelivered(ctx context.Context, id int64, status alerting.LogStatus, sentAt time.Time, errorMsg string) error {
	return r.db.WithContext(ctx).Model(&AlertLogModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":    string(status),
			"sent_at":   sentAt,
			"error_msg": errorMsg,
		}).Error
}

func (r *AlertLogRepository) CountSince(ctx context.Context, since time.Time) (map[alerting.LogStatus]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&AlertLogModel{}).
		Select("status, count(*) as count").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[alerting.LogStatus]int64, len(rows))
	for _, r := range rows {
		out[alerting.LogStatus(r.Status)] = r.Count
	}
	return out, nil
}

// Mappers

func ruleToDomain(m AlertRuleModel) (*alerting.Rule, error) {
	var conditions []alerting.Condition
	if len(m.Conditions) > 0 {
		if err := json.Unmarshal(m.Conditions, &conditions); err != nil {
			return nil, err
		}
	}
	var channels []string
	if len(m.Channels) > 0 {
		if err := json.Unmarshal(m.Channels, &channels); err != nil {
			return nil, err
		}
	}
	return &alerting.Rule{
		ID:                 m.ID,
		Name:               m.Name,
		EventType:          m.EventType,
		Conditions:         conditions,
		Severity:           alerting.Severity(m.Severity),
		Channels:           channels,
		CooldownMinutes:    m.CooldownMinutes,
		BatchWindowMinutes: m.BatchWindowMinutes,
		IsActive:           m.IsActive,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}, nil
}

func logToModel(d *alerting.Log) (AlertLogModel, error) {
	metadata, err := toJSON(d.Metadata)
	if err != nil {
		return AlertLogModel{}, err
	}
	channels, err := toJSON(d.Channels)
	if err != nil {
		return AlertLogModel{}, err
	}
	return AlertLogModel{
		ID:        d.ID,
		RuleID:    d.RuleID,
		EventType: d.EventType,
		Severity:  string(d.Severity),
		Title:     d.Title,
		Message:   d.Message,
		Metadata:  metadata,
		Channels:  channels,
		Status:    string(d.Status),
		SentAt:    d.SentAt,
		ErrorMsg:  d.ErrorMsg,
		CreatedAt: d.CreatedAt,
	}, nil
}

// toJSON marshals a value into a jsonb column, mapping nil to SQL
// null.
func toJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
