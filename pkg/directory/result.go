package directory

import (
	"fmt"
	"time"
)

// Sync categories used in counters, error entries and metrics
const (
	CategoryDepartments = "departments"
	CategoryUsers       = "users"
	CategorySync        = "sync"
)

// Item outcomes recorded per synced item
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// DefaultMaxErrors bounds the error entries kept in a Result
const DefaultMaxErrors = 100

// Counters counts the items of one category by outcome
type Counters struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Total is the number of items handled without error
func (c Counters) Total() int {
	return c.Created + c.Updated + c.Skipped
}

func (c *Counters) record(outcome string) {
	switch outcome {
	case OutcomeCreated:
		c.Created++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeSkipped:
		c.Skipped++
	}
}

// ItemError describes one item (or page) that could not be synced
type ItemError struct {
	Category string `json:"category"`
	RemoteID string `json:"remote_id"`
	Message  string `json:"message"`
}

func (e ItemError) String() string {
	return fmt.Sprintf("%s %s: %s", e.Category, e.RemoteID, e.Message)
}

// Result is the outcome of one Sync call
type Result struct {
	Departments Counters    `json:"departments"`
	Users       Counters    `json:"users"`
	Errors      []ItemError `json:"errors"`
	// ErrorCount counts every error, including those beyond the kept Errors
	ErrorCount int       `json:"error_count"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	maxErrors int
}

func newResult(maxErrors int, now time.Time) *Result {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Result{Errors: []ItemError{}, StartedAt: now, maxErrors: maxErrors}
}

func (r *Result) addError(category, remoteID string, err error) {
	r.ErrorCount++
	if len(r.Errors) >= r.maxErrors {
		return
	}
	r.Errors = append(r.Errors, ItemError{Category: category, RemoteID: remoteID, Message: err.Error()})
}

// Duration is the wall time of the run
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
