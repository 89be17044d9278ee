package store

import "time"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run records one sync, publish or unpublish invocation
type Run struct {
	ID               string // uuid
	Command          string // "sync", "publish", "unpublish"
	Environments     string // comma-separated environment names
	Locale           string
	Mode             string // "all", "assets", "content_types"
	StartTime        time.Time
	EndTime          time.Time
	EntriesSucceeded int
	EntriesFailed    int
	AssetsSucceeded  int
	AssetsFailed     int
	Skipped          int
	Status           string
	ErrorMessage     string
}

// FailedJob records a job that could not be delivered during a run
type FailedJob struct {
	ID          int64
	RunID       string
	Kind        string // "entry" or "asset"
	UID         string
	Title       string
	ContentType string // empty for assets
	Locale      string
	Action      string
	Error       string
	FailedAt    time.Time
}
