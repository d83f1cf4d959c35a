package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document status values.
const (
	DocumentPending  = "pending"
	DocumentIngested = "ingested"
)

// Document is a source file under the data directory. ContentHash is the
// SHA-256 of the raw bytes, used to skip files that have not changed.
type Document struct {
	ID           string
	Path         string
	Source       string // base name shown in citations
	SourceType   string
	ContentHash  string
	Status       string
	PassageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Interaction is one answered question.
type Interaction struct {
	ID            string
	CreatedAt     time.Time
	Question      string
	Strategy      string
	Answer        string
	CitationsJSON string // JSON array stored as text
	DurationMS    int64
	Status        string // "completed" or "error"
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Stats summarises what the database holds.
type Stats struct {
	Documents    int
	Passages     int
	Interactions int
	PendingJobs  int
	FailedJobs   int
}
