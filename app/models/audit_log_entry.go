package models

import "time"

const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

// AuditLogEntry is the append-only compliance trail. ActorID is empty for
// system actions. OldValues/NewValues hold JSON snapshots.
type AuditLogEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TenantID      string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Action        string    `gorm:"type:varchar(64);not null;index" json:"action"`
	EntityType    string    `gorm:"type:varchar(64);not null;index" json:"entity_type"`
	EntityID      string    `gorm:"type:varchar(191);not null;index" json:"entity_id"`
	ActorID       string    `gorm:"type:varchar(64)" json:"actor_id"`
	OldValues     string    `gorm:"type:longtext" json:"old_values"`
	NewValues     string    `gorm:"type:longtext" json:"new_values"`
	Status        string    `gorm:"type:varchar(16);not null;default:'success';index" json:"status"`
	CorrelationID string    `gorm:"type:varchar(64);index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
