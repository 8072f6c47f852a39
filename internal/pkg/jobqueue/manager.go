package jobqueue

import (
	"errors"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/flowpags/payrecon/internal/pkg/env"
)

// ErrManagerNotReady is returned when a job is enqueued before Setup ran.
var ErrManagerNotReady = errors.New("jobqueue: manager not initialized")

// Manager manages the global job queue
type Manager struct {
	queue   *Queue
	mu      sync.Mutex
	running bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Setup initializes the global manager with its job processors. Must be
// called once before GetManager; later calls are no-ops.
func Setup(processor WebhookJobProcessor, coordinator ReconcileJobProcessor) *Manager {
	managerOnce.Do(func() {
		workers := 3
		if v := env.GetEnv("JOB_WORKER_COUNT", ""); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				workers = n
			}
		}

		globalManager = &Manager{
			queue: NewQueue(workers, processor, coordinator),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager (singleton). Returns nil
// when Setup has not run yet.
func GetManager() *Manager {
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue workers
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue")
	m.queue.Start()
	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue workers
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[JobQueue Manager] Stopping job queue...")
	m.queue.Stop()
	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// EnqueueWebhookProcess queues asynchronous routing of a stored webhook
// event. Satisfies the ingestion layer's enqueuer contract.
func (m *Manager) EnqueueWebhookProcess(tenantID string, webhookEventID uint) error {
	if m == nil {
		return ErrManagerNotReady
	}
	payload := WebhookProcessPayload{TenantID: tenantID, WebhookEventID: webhookEventID}
	_, err := m.queue.EnqueueJob(JobTypeWebhookProcess, payload.ToMap())
	return err
}

// EnqueueReconcile queues a reconciliation pass for a recorded transaction.
func (m *Manager) EnqueueReconcile(tenantID string, transactionID uint) error {
	if m == nil {
		return ErrManagerNotReady
	}
	payload := ReconcilePayload{TenantID: tenantID, TransactionID: transactionID}
	_, err := m.queue.EnqueueJob(JobTypeReconcileTransaction, payload.ToMap())
	return err
}
