package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskTranscriptSweep = "calls.transcripts.sweep"

const TaskReconciliationAudit = "calls.reconciliation.audit"

// AuditPayload scopes an audit to one tenant. Empty means every tenant,
// followed by the orphan purge.
type AuditPayload struct {
	TenantID string `json:"tenantId,omitempty"`
}

func NewTranscriptSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTranscriptSweep, nil)
}

func NewReconciliationAuditTask(payload AuditPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconciliationAudit, data), nil
}

func ParseAuditPayload(task *asynq.Task) (AuditPayload, error) {
	var payload AuditPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AuditPayload{}, err
	}
	return payload, nil
}
