package models

import (
	"time"
)

// Priority orders queue service: lower values are served first. The Redis
// adapter drains ready lists in ascending priority order.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityBulk     Priority = 4
)

// Category names double as job names in the queue so health reporting can
// classify jobs without extra metadata.
const (
	CategoryImmediate  = "immediate"
	CategoryScheduled  = "scheduled"
	CategoryBulk       = "bulk"
	CategoryDeadLetter = "deadLetter"
)

// EmailPayload is the durable body of an email job: everything the send
// worker needs to deliver, plus the resolved priority.
type EmailPayload struct {
	Recipients []string       `json:"recipients"`
	Template   string         `json:"template"`
	Data       map[string]any `json:"data,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Priority   Priority       `json:"priority"`
}

// Batch is one bounded slice of a bulk campaign's recipient list, carrying
// its position so downstream consumers can report campaign progress.
type Batch struct {
	Number     int
	Total      int
	Recipients []string
	Delay      time.Duration
}
