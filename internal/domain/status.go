package domain

type JobStatus string

const (
	StatusPending       JobStatus = "pending"
	StatusScheduled     JobStatus = "scheduled"
	StatusDownloading   JobStatus = "downloading"
	StatusRefreshingURL JobStatus = "refreshing_url"
	StatusCompleted     JobStatus = "completed"
	StatusCancelled     JobStatus = "cancelled"
	StatusError         JobStatus = "error"
)

// IsActive reports whether the status counts against the concurrency ceiling.
func (s JobStatus) IsActive() bool {
	return s == StatusDownloading || s == StatusRefreshingURL
}

// IsTerminal reports whether an execution sequence has ended in this status.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusDownloading, StatusRefreshingURL,
		StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

func (s JobStatus) String() string { return string(s) }

// Kind tells the refresh protocol how to re-derive an effective URL.
type Kind string

const (
	KindPlain Kind = "plain"
	KindMedia Kind = "media"
)

// ConflictAction is the decision taken when the destination file already exists.
type ConflictAction string

const (
	ConflictAsk       ConflictAction = ""
	ConflictRename    ConflictAction = "rename"
	ConflictOverwrite ConflictAction = "overwrite"
	ConflictAbort     ConflictAction = "abort"
)
