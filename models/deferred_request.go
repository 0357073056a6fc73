package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DeferredStatus string

const (
	StatusPending    DeferredStatus = "pending"
	StatusProcessing DeferredStatus = "processing"
	StatusCompleted  DeferredStatus = "completed"
	StatusFailed     DeferredStatus = "failed"
	StatusCancelled  DeferredStatus = "cancelled"
)

// Terminal reports whether no further transition may be applied.
func (s DeferredStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Priority string

const (
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
)

// ParsePriority maps arbitrary input onto a known lane, falling back to the
// default lane.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityHigh:
		return Priority(s)
	default:
		return PriorityDefault
	}
}

// Error codes recorded on failed deferred requests.
const (
	ErrCodeTimeout   = "TIMEOUT"
	ErrCodeExecution = "EXECUTION_ERROR"
	ErrCodeJobFailed = "JOB_FAILED"
)

// DeferredRequest is a synchronous API call captured for asynchronous
// execution. The worker is the only writer after creation, apart from an
// explicit user cancellation.
type DeferredRequest struct {
	Id             string `json:"id" gorm:"primaryKey"`
	OrganizationId string `json:"organization_id" gorm:"size:36;not null;index"`
	UserId         string `json:"user_id" gorm:"size:36;not null;index"`

	HttpMethod  string         `json:"http_method" gorm:"size:10;not null"`
	Endpoint    string         `json:"endpoint" gorm:"size:255;not null"`
	Payload     datatypes.JSON `json:"payload,omitempty" gorm:"type:jsonb"`
	QueryParams datatypes.JSON `json:"query_params,omitempty" gorm:"type:jsonb"`
	// Allow-list filtered at dispatch time; never contains credentials.
	Headers datatypes.JSON `json:"headers,omitempty" gorm:"type:jsonb"`

	Status          DeferredStatus `json:"status" gorm:"type:VARCHAR(20);not null;default:'pending';index:idx_deferred_requests_status_expires,priority:1"`
	Progress        *int           `json:"progress"`
	ProgressMessage *string        `json:"progress_message"`

	Result           datatypes.JSON `json:"result,omitempty" gorm:"type:jsonb"`
	ResultStatusCode *int           `json:"result_status_code"`
	ErrorCode        *string        `json:"error_code" gorm:"size:40"`
	ErrorMessage     *string        `json:"error_message"`

	Attempts    int `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts int `json:"max_attempts" gorm:"not null;default:3"`

	Priority       Priority `json:"priority" gorm:"type:VARCHAR(10);not null;default:'default'"`
	TimeoutSeconds int      `json:"-" gorm:"not null;default:300"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"not null;index:idx_deferred_requests_status_expires,priority:2"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (r *DeferredRequest) BeforeCreate(tx *gorm.DB) (err error) {
	if r.Id == "" {
		r.Id = uuid.NewString()
	}
	return
}

// PollingView shapes the record for the polling endpoint. The result is
// exposed only once the record is Completed, even if a partial write left
// data behind.
func (r *DeferredRequest) PollingView() map[string]any {
	out := map[string]any{
		"id":                 r.Id,
		"status":             r.Status,
		"endpoint":           r.Endpoint,
		"http_method":        r.HttpMethod,
		"progress":           r.Progress,
		"progress_message":   r.ProgressMessage,
		"result_status_code": r.ResultStatusCode,
		"error_code":         r.ErrorCode,
		"error_message":      r.ErrorMessage,
		"attempts":           r.Attempts,
		"max_attempts":       r.MaxAttempts,
		"priority":           r.Priority,
		"started_at":         r.StartedAt,
		"completed_at":       r.CompletedAt,
		"expires_at":         r.ExpiresAt,
		"created_at":         r.CreatedAt,
		"updated_at":         r.UpdatedAt,
	}
	if r.Status == StatusCompleted {
		out["result"] = r.Result
	}
	return out
}
