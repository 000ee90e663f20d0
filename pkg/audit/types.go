package audit

import (
	"time"
)

// Action is the job operation being recorded
type Action string

const (
	ActionTrigger Action = "job.trigger"
	ActionStart   Action = "job.start"
	ActionStop    Action = "job.stop"
	ActionUpdate  Action = "job.update"
)

// Status is the recorded outcome of an audited call
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Record is one audit log entry: who did what to which job, when
type Record struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Status    Status    `json:"status"`

	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`

	JobID    int64  `json:"job_id"`
	JobDesc  string `json:"job_desc,omitempty"`
	AppName  string `json:"app_name,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Detail   string                 `json:"detail,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter narrows an audit log query
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID  *int64
	JobID   *int64
	Actions []Action
	Status  *Status

	Limit  int
	Offset int
}

// Stats summarizes audit activity
type Stats struct {
	TotalRecords    int64            `json:"total_records"`
	RecordsByAction map[Action]int64 `json:"records_by_action"`
	RecordsByStatus map[Status]int64 `json:"records_by_status"`
	UniqueUsers     int64            `json:"unique_users"`
}
