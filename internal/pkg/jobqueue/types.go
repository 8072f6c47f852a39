package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWebhookProcess       JobType = "webhook_process"
	JobTypeReconcileTransaction JobType = "reconcile_transaction"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// MarkAsProcessing flags the job as picked up by a worker.
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// MarkAsCompleted flags the job as done.
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkAsFailed records a failed attempt.
func (j *Job) MarkAsFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMsg = errMsg
	j.RetryCount++
	j.UpdatedAt = time.Now()
}

// MarkAsRetrying flags the job for re-enqueueing.
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// IsRetryable reports whether the job still has retry budget.
func (j *Job) IsRetryable() bool {
	return j.RetryCount <= j.MaxRetries
}

// WebhookProcessPayload contains the payload for webhook processing jobs
type WebhookProcessPayload struct {
	TenantID       string `json:"tenant_id"`
	WebhookEventID uint   `json:"webhook_event_id"`
}

// ToMap converts the payload to a map for storage
func (p WebhookProcessPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":        p.TenantID,
		"webhook_event_id": p.WebhookEventID,
	}
}

// WebhookProcessPayloadFromMap creates a payload from a map
func WebhookProcessPayloadFromMap(data map[string]interface{}) (*WebhookProcessPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var p WebhookProcessPayload
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ReconcilePayload contains the payload for reconciliation jobs
type ReconcilePayload struct {
	TenantID      string `json:"tenant_id"`
	TransactionID uint   `json:"transaction_id"`
}

// ToMap converts the payload to a map for storage
func (p ReconcilePayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":      p.TenantID,
		"transaction_id": p.TransactionID,
	}
}

// ReconcilePayloadFromMap creates a payload from a map
func ReconcilePayloadFromMap(data map[string]interface{}) (*ReconcilePayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var p ReconcilePayload
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
