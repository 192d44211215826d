package domain

import "time"

// StateType is Linear's coarse workflow-state classification.
type StateType string

const (
	StateTriage    StateType = "triage"
	StateBacklog   StateType = "backlog"
	StateUnstarted StateType = "unstarted"
	StateStarted   StateType = "started"
	StateCompleted StateType = "completed"
	StateCanceled  StateType = "canceled"
)

// Active reports whether the state type counts as work in flight.
func (s StateType) Active() bool { return s == StateStarted }

// Terminal reports whether the state type ends an issue's lifecycle.
func (s StateType) Terminal() bool { return s == StateCompleted || s == StateCanceled }

type ProjectHealth string

const (
	HealthOnTrack  ProjectHealth = "onTrack"
	HealthAtRisk   ProjectHealth = "atRisk"
	HealthOffTrack ProjectHealth = "offTrack"
	HealthUnset    ProjectHealth = ""
)

type Issue struct {
	ID            string
	Key           string
	Title         string
	Description   string
	TeamKey       string
	StateName     string
	StateType     StateType
	AssigneeID    string
	AssigneeName  string
	AvatarURL     string
	Estimate      *float64
	Priority      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CanceledAt    *time.Time
	ParentID      string
	LastCommentAt *time.Time
	CommentCount  int
	ProjectID     string
	Labels        []string
}

// IsSubissue reports whether the issue sits under a parent. Subissues are
// excluded from missing-estimate and missing-priority violation counts.
func (i Issue) IsSubissue() bool { return i.ParentID != "" }

type ProjectUpdate struct {
	Body      string        `json:"body"`
	Health    ProjectHealth `json:"health"`
	Author    string        `json:"author"`
	CreatedAt time.Time     `json:"created_at"`
}

type Project struct {
	ID               string
	Name             string
	State            string // lifecycle category: backlog, planned, started, paused, completed, canceled
	Status           string // fine-grained status string as shown in the tracker UI
	Health           ProjectHealth
	LeadID           string
	LeadName         string
	Description      string
	Content          string
	TargetDate       *time.Time
	EstimatedEndDate *time.Time
	StartedAt        *time.Time
	UpdatedAt        time.Time

	// Aggregates, recomputed wholesale from the current issue set every pass.
	TotalIssues      int
	CompletedIssues  int
	InProgressIssues int
	TotalPoints      float64
	CompletedPoints  float64
	Engineers        []string
	TeamIssueCounts  map[string]int

	// Violation counts, recomputed wholesale.
	MissingEstimateCount    int
	MissingPriorityCount    int
	StaleCommentCount       int
	WIPAgeViolationCount    int
	MissingDescriptionCount int

	// Quality metrics. Nil means undefined for this pass.
	Velocity         *float64 // completed issues per week since project start
	AvgCycleTimeDays *float64
	AvgLeadTimeDays  *float64
	EstimateAccuracy *float64 // 0..1
	Progress         float64  // completed / total, 0 when no issues

	HasStatusMismatch  bool
	HasStaleUpdate     bool
	MissingLead        bool
	MissingHealth      bool
	HasDateDiscrepancy bool
	HasViolations      bool

	LastUpdateAt  *time.Time
	UpdateHistory []ProjectUpdate
}

type ActiveIssue struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Points  *float64 `json:"points,omitempty"`
	AgeDays *float64 `json:"age_days,omitempty"`
}

type Engineer struct {
	ID               string
	Name             string
	AvatarURL        string
	Teams            []string
	ActiveIssues     []ActiveIssue
	WIPCount         int
	WIPPoints        float64
	WIPLimitExceeded bool
	OldestWIPAgeDays *float64

	MissingEstimateCount int
	MissingPriorityCount int
	StaleCommentCount    int
}

type Initiative struct {
	ID              string
	Name            string
	Description     string
	Content         string
	Status          string
	TargetDate      *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ArchivedAt      *time.Time
	Health          string
	HealthUpdatedAt *time.Time
	OwnerName       string
	ProjectIDs      []string
	UpdatedAt       time.Time
}

type SnapshotLevel string

const (
	LevelOrg    SnapshotLevel = "org"
	LevelDomain SnapshotLevel = "domain"
	LevelTeam   SnapshotLevel = "team"
)

// MetricsSnapshot is an append-only capture of aggregate metrics, used for
// trend queries. Rows are never mutated after insert.
type MetricsSnapshot struct {
	ID            int64
	CapturedAt    time.Time
	SchemaVersion int
	Level         SnapshotLevel
	LevelKey      string
	Payload       map[string]any
}
