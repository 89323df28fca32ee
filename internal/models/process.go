// Package models contains the durable entities of the process orchestrator:
// ProcessRecord, TaskInstance and WorkUnit, plus their request/filter DTOs.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProcessStatus is the engine-managed lifecycle status of a ProcessRecord.
type ProcessStatus string

const (
	ProcessStatusPending    ProcessStatus = "pending"
	ProcessStatusInProgress ProcessStatus = "in_progress"
	ProcessStatusCompleted  ProcessStatus = "completed"
	ProcessStatusFailed     ProcessStatus = "failed"
	ProcessStatusStopped    ProcessStatus = "stopped"
)

// TriggeredBy records the provenance of a run.
type TriggeredBy string

const (
	TriggeredByManual    TriggeredBy = "manual"
	TriggeredByScheduled TriggeredBy = "scheduled"
	TriggeredByAPI       TriggeredBy = "api"
)

// TaskStatus is the status of a single TaskInstance.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// ProcessRecord is a user-declared pipeline instance: user-owned fields
// (Type, InputData, Schedule) plus engine-managed status fields mirroring
// current run progress. Engine-managed fields are updated exclusively by
// the core (§3.2 invariant).
type ProcessRecord struct {
	ID         string  `json:"id" gorm:"type:varchar(64);primaryKey"`
	Type       string  `json:"type" gorm:"type:varchar(255);not null;index:idx_process_type"`
	InputData  string  `json:"input_data" gorm:"type:jsonb"`
	Schedule   *string `json:"schedule,omitempty" gorm:"type:varchar(100);index:idx_process_schedule"`

	CurrentStatus    ProcessStatus `json:"current_status" gorm:"type:varchar(20);not null;default:'pending';index:idx_process_status"`
	CurrentTaskIndex int           `json:"current_task_index" gorm:"default:0"`
	TotalTasks       int           `json:"total_tasks" gorm:"default:0"`

	StartedWhen   *time.Time `json:"started_when,omitempty"`
	CompletedWhen *time.Time `json:"completed_when,omitempty"`
	FailedWhen    *time.Time `json:"failed_when,omitempty"`
	StoppedWhen   *time.Time `json:"stopped_when,omitempty"`

	LastErrorMessage string      `json:"last_error_message,omitempty" gorm:"type:text"`
	TriggeredBy      TriggeredBy `json:"triggered_by,omitempty" gorm:"type:varchar(20)"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (ProcessRecord) TableName() string {
	return "process_records"
}

// TaskInstance is a per-run execution record for one task of one pipeline
// run (§3.3).
type TaskInstance struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProcessRecordID string     `json:"process_record_id" gorm:"type:varchar(64);not null;index:idx_task_process"`
	TaskIndex       int        `json:"task_index" gorm:"not null;index:idx_task_index"`
	Name            string     `json:"name" gorm:"type:varchar(255);not null"`
	Command         string     `json:"command" gorm:"type:text;not null"`
	WorkingDir      string     `json:"working_directory,omitempty" gorm:"type:varchar(500)"`
	TimeoutMinutes  int        `json:"timeout_minutes" gorm:"default:60"`
	MaxRetries      int        `json:"max_retries" gorm:"default:3"`
	RetryCount      int        `json:"retry_count" gorm:"default:0"`
	Status          TaskStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index:idx_task_status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	Output          string     `json:"output,omitempty" gorm:"type:text"`
	ErrorMessage    string     `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (TaskInstance) TableName() string {
	return "task_instances"
}

// CoreTaskName is the fixed work-unit task name constant for this core,
// per §3.4.
const CoreTaskName = "process-orchestrator-task"

// WorkUnit is a durable queue row: "run task #k of process record R",
// the scheduler's unit of claim (§3.4, §4.5).
type WorkUnit struct {
	TaskName     string `json:"task_name" gorm:"type:varchar(100);primaryKey"`
	TaskInstance string `json:"task_instance" gorm:"type:varchar(200);primaryKey"`

	ProcessRecordID string `json:"process_record_id" gorm:"type:varchar(64);not null;index:idx_wu_process"`
	Payload         []byte `json:"payload" gorm:"type:jsonb"`

	ExecutionTime       time.Time  `json:"execution_time" gorm:"not null;index:idx_wu_exectime"`
	Picked              bool       `json:"picked" gorm:"default:false"`
	PickedBy            string     `json:"picked_by,omitempty" gorm:"type:varchar(100)"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures" gorm:"default:0"`
	LastHeartbeat       time.Time  `json:"last_heartbeat" gorm:"index:idx_wu_heartbeat"`
	Version             int64      `json:"version" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (WorkUnit) TableName() string {
	return "scheduled_work_units"
}

// ProcessRunState is the payload encoded into a WorkUnit: a snapshot of
// the run when the unit was enqueued (§3.4). The state machine re-reads
// the ProcessRecord by ProcessRecordID and takes the task index and
// status from the record; from the payload it carries TriggeredBy
// forward to the next unit.
type ProcessRunState struct {
	ProcessRecordID  string      `json:"process_record_id"`
	ProcessTypeName  string      `json:"process_type_name"`
	CurrentTaskIndex int         `json:"current_task_index"`
	TotalTasks       int         `json:"total_tasks"`
	InputData        string      `json:"input_data"`
	TriggeredBy      TriggeredBy `json:"triggered_by"`
	Attempt          int         `json:"attempt"`
}

// Marshal encodes the run state as the WorkUnit payload.
func (s ProcessRunState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalProcessRunState decodes a WorkUnit payload.
func UnmarshalProcessRunState(payload []byte) (ProcessRunState, error) {
	var s ProcessRunState
	err := json.Unmarshal(payload, &s)
	return s, err
}

// CreateProcessRecordRequest is the request to declare a new process
// record from a registered process type.
type CreateProcessRecordRequest struct {
	ID        string  `json:"id" validate:"required,min=1,max=64"`
	Type      string  `json:"type" validate:"required"`
	InputData string  `json:"input_data"`
	Schedule  *string `json:"schedule,omitempty"`
}

// ProcessFilter filters ProcessRecord queries.
type ProcessFilter struct {
	Status   ProcessStatus `json:"status,omitempty"`
	Type     string        `json:"type,omitempty"`
	Page     int           `json:"page,omitempty"`
	PageSize int           `json:"page_size,omitempty"`
}

// ProcessListResult is a paginated ProcessRecord query result.
type ProcessListResult struct {
	Records    []ProcessRecord `json:"records"`
	TotalCount int64           `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	HasMore    bool            `json:"has_more"`
}

// Statistics is the §6.2 read-query result summarizing record counts by
// status plus the scheduled-record count.
type Statistics struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Stopped    int64 `json:"stopped"`
	Scheduled  int64 `json:"scheduled"`
}

// OperationResult is the structured result every public orchestrator
// operation returns — never a panic on a store error (§7).
type OperationResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
