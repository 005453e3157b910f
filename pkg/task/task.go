// Package task tracks units of orchestrated work through an explicit
// lifecycle: PENDING -> RUNNING -> COMPLETED/FAILED. The processor owns
// retry accounting; the terminal states are final and audited.
package task

import (
	"encoding/json"
	"time"
)

// Queue is where task execution jobs are delivered.
const Queue = "agent-tasks"

// Job is the queue payload that names a task to execute.
type Job struct {
	TaskID string `json:"task_id"`
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultMaxAttempts is the policy default for the in-process attempt
// budget.
const DefaultMaxAttempts = 3

// Task is one persisted unit of asynchronous work. It is created when
// work is requested and mutated only by the worker that won the
// PENDING -> RUNNING claim.
type Task struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// New builds a PENDING task with the default attempt budget.
func New(id, taskType string, payload json.RawMessage) *Task {
	return &Task{
		ID:          id,
		Type:        taskType,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   time.Now(),
	}
}
