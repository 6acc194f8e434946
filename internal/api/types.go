package api

import (
	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/session"
	"github.com/MJE43/bart-task-go/internal/triallog"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types
const (
	// Input validation errors
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeValidation    = "validation_error"

	// Session errors
	ErrTypeNoSession = "session_not_started"
	ErrTypeNoRecords = "no_records"

	// Access errors
	ErrTypeUnauthorized = "unauthorized"
	ErrTypeNotFound     = "not_found"

	// System errors
	ErrTypeTimeout  = "timeout"
	ErrTypeInternal = "internal_error"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategorySession    ErrorCategory = "session"
	CategoryAccess     ErrorCategory = "access"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidParams, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeNoSession, ErrTypeNoRecords:
		return CategorySession
	case ErrTypeUnauthorized, ErrTypeNotFound:
		return CategoryAccess
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
}

// StartRequest is the optional body of POST /api/v1/session
type StartRequest struct {
	Seed  int64  `json:"seed,omitempty"`
	Order string `json:"order,omitempty"`
}

// SessionResponse describes the active session
type SessionResponse struct {
	SessionID     string           `json:"sessionId"`
	Seed          int64            `json:"seed"`
	Order         trials.Order     `json:"order"`
	Paced         bool             `json:"paced"`
	StartedAt     string           `json:"startedAt"`
	Snapshot      session.Snapshot `json:"snapshot"`
	EngineVersion string           `json:"engine_version"`
}

// ActionResponse is returned by the ready/pump/collect/advance routes.
// Applied is false when the engine ignored the action.
type ActionResponse struct {
	Action   string           `json:"action"`
	Applied  bool             `json:"applied"`
	Snapshot session.Snapshot `json:"snapshot"`
}

// RecordsResponse is a page of the trial log
type RecordsResponse struct {
	Records []triallog.Record `json:"records"`
	// Next is the since value for the following poll.
	Next  int `json:"next"`
	Total int `json:"total"`
}

// EventsResponse holds buffered engine events
type EventsResponse struct {
	SessionID string          `json:"sessionId"`
	Events    []session.Event `json:"events"`
	LastSeq   int64           `json:"lastSeq"`
}

// ScoresResponse carries live or final scores
type ScoresResponse struct {
	Scores  scoring.ScoreSet      `json:"scores"`
	Final   bool                  `json:"final"`
	Summary []scoring.SummaryItem `json:"summary"`
}

// BalloonsResponse lists the balloon table
type BalloonsResponse struct {
	Balloons      []trials.Balloon `json:"balloons"`
	EngineVersion string           `json:"engine_version"`
}
