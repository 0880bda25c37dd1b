// Package models defines the domain models for the pipeline service client.
package models

import "time"

// PipelineStatus is the execution state of a pipeline as reported by the
// server. The label set is server-defined; the client treats it as an
// opaque enumerable string and never invents values of its own.
type PipelineStatus = string

const (
	PipelineCreated   PipelineStatus = "Created"
	PipelineRunning   PipelineStatus = "Running"
	PipelineCompleted PipelineStatus = "Completed"
	PipelineCancelled PipelineStatus = "Cancelled"
)

// StageStatus is the execution state of a single stage. Progression is
// normally Pending -> Running -> Completed/Failed, but the client must not
// assume a stage cannot regress: stream delivery is at-least-once and
// unordered, and merges are last-applied-wins.
type StageStatus = string

const (
	StagePending   StageStatus = "Pending"
	StageRunning   StageStatus = "Running"
	StageCompleted StageStatus = "Completed"
	StageFailed    StageStatus = "Failed"
)

// User represents a user profile. Email is immutable once issued by the
// server; Name and Role are client-editable and written back via profile
// save, where the server response is authoritative.
type User struct {
	UserID string `json:"UserID"`
	Name   string `json:"Name"`
	Email  string `json:"Email"`
	Role   string `json:"Role"`
}

// Pipeline represents one pipeline execution owned by a user. The server
// serialises these with Go field names, not snake_case.
type Pipeline struct {
	PipelineID string         `json:"PipelineID"`
	UserID     string         `json:"UserID,omitempty"`
	Status     PipelineStatus `json:"Status"`
	CreatedAt  time.Time      `json:"CreatedAt,omitempty"`
	UpdatedAt  time.Time      `json:"UpdatedAt,omitempty"`
}

// Stage represents one stage of a pipeline. Stages belong to exactly one
// pipeline and are only addressable within that scope.
type Stage struct {
	StageID    string      `json:"StageID"`
	PipelineID string      `json:"PipelineID,omitempty"`
	Status     StageStatus `json:"Status"`
	ErrorMsg   string      `json:"ErrorMsg,omitempty"`
	Timestamp  time.Time   `json:"Timestamp,omitempty"`
}

// Stream event kinds.
const (
	EventPipeline = "pipeline"
	EventStage    = "stage"
)

// StreamEvent is one status-change message delivered over a pipeline's
// server-push stream. Kind is "pipeline" or "stage"; StageID is only set
// for stage events. Events carry no sequence number.
type StreamEvent struct {
	Kind       string `json:"type"`
	PipelineID string `json:"pipeline_id"`
	StageID    string `json:"stage_id,omitempty"`
	Status     string `json:"status"`
}
