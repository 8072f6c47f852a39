package eventstore

import (
	"context"
	"time"

	"github.com/flowpags/payrecon/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the engine-owned records: webhook events, domain
// events, audit entries and notification intents. Domain events and audit
// entries are append-only; webhook events are mutable only in their
// processing bookkeeping columns.
type Repository interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEvent(ctx context.Context, tenantID string, id uint) (*models.WebhookEvent, error)
	GetWebhookEventByEventID(ctx context.Context, tenantID, eventID string) (*models.WebhookEvent, error)
	ListWebhookEvents(ctx context.Context, tenantID string, processed *bool, limit, offset int) ([]models.WebhookEvent, error)
	ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint) error
	RecordFailure(ctx context.Context, id uint, errMsg string, terminal bool) error
	AppendDomainEvent(ctx context.Context, event *models.DomainEvent) error
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
	SaveNotificationIntent(ctx context.Context, intent *models.NotificationIntent) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an event store repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateWebhookEventIfNotExists inserts the event unless a row with the same
// (tenant_id, event_id) already exists. The RowsAffected check against the
// unique constraint is the idempotency boundary for at-least-once delivery.
func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND event_id = ?", event.TenantID, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, tenantID string, id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) GetWebhookEventByEventID(ctx context.Context, tenantID, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) ListWebhookEvents(ctx context.Context, tenantID string, processed *bool, limit, offset int) ([]models.WebhookEvent, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if processed != nil {
		q = q.Where("processed = ?", *processed)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []models.WebhookEvent
	err := q.Order("received_at DESC").Limit(limit).Offset(offset).Find(&events).Error
	return events, err
}

// ListRetryable selects unprocessed events still eligible for automatic
// retry. Terminally failed events are excluded; they require the explicit
// operator retry path. An empty tenantID selects across all tenants.
func (r *gormRepository) ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	q := r.db.WithContext(ctx).
		Where("processed = ? AND terminal_failure = ? AND attempt_count < ?", false, false, maxAttempts)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if limit <= 0 {
		limit = 100
	}

	var events []models.WebhookEvent
	err := q.Order("received_at ASC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *gormRepository) MarkProcessed(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": &now,
		}).Error
}

func (r *gormRepository) RecordFailure(ctx context.Context, id uint, errMsg string, terminal bool) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_count":    gorm.Expr("attempt_count + 1"),
			"last_error":       errMsg,
			"terminal_failure": terminal,
		}).Error
}

func (r *gormRepository) AppendDomainEvent(ctx context.Context, event *models.DomainEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *gormRepository) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) SaveNotificationIntent(ctx context.Context, intent *models.NotificationIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}
