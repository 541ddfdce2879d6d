package models

import "time"

// RedisStatus reports broker connectivity and the figures parsed from INFO.
type RedisStatus struct {
	Connected       bool  `json:"connected"`
	UsedMemoryBytes int64 `json:"used_memory_bytes"`
	UptimeSeconds   int64 `json:"uptime_seconds"`
}

// CategoryStats aggregates one queue category's counters.
type CategoryStats struct {
	Sent                int       `json:"sent"`
	Failed              int       `json:"failed"`
	QueueDepth          int       `json:"queue_depth"`
	Retried             int       `json:"retried"`
	AvgProcessingTimeMs float64   `json:"avg_processing_time_ms"`
	LastProcessed       time.Time `json:"last_processed"`
}

// WorkerStats is the flat rollup across every category.
type WorkerStats struct {
	Active    int `json:"active"`
	Waiting   int `json:"waiting"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// HealthSnapshot is a best-effort, point-in-time view of the dispatch
// queue. The four category blocks are always present; a category whose
// queries fail reports zeros rather than breaking the snapshot.
type HealthSnapshot struct {
	Redis      RedisStatus   `json:"redis"`
	Immediate  CategoryStats `json:"immediate"`
	Scheduled  CategoryStats `json:"scheduled"`
	Bulk       CategoryStats `json:"bulk"`
	DeadLetter CategoryStats `json:"deadLetter"`
	Workers    WorkerStats   `json:"workers"`
	TakenAt    time.Time     `json:"taken_at"`
}

// Category returns a pointer to the block for the given category name so
// the reporter can fill blocks generically. Unknown names return nil.
func (h *HealthSnapshot) Category(name string) *CategoryStats {
	switch name {
	case CategoryImmediate:
		return &h.Immediate
	case CategoryScheduled:
		return &h.Scheduled
	case CategoryBulk:
		return &h.Bulk
	case CategoryDeadLetter:
		return &h.DeadLetter
	default:
		return nil
	}
}
