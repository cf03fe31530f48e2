package model

import "time"

// ConsistencyRunReport is published after every full reconciliation run.
type ConsistencyRunReport struct {
	RunID      string             `json:"runId"`
	Trigger    string             `json:"trigger"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Entities   []EntityRunSummary `json:"entities"`
	Total      int                `json:"total"`
	Fixed      int                `json:"fixed"`
	Pending    int                `json:"pending"`
	ByType     map[string]int     `json:"byType"`
	Alerted    bool               `json:"alerted"`
	Threshold  int                `json:"threshold"`
}

// EventID keys the report message by run.
func (r *ConsistencyRunReport) EventID() string {
	return r.RunID
}

// EntityRunSummary is the per-entity part of a run report.
type EntityRunSummary struct {
	EntityName string `json:"entityName"`
	Found      int    `json:"found"`
	Fixed      int    `json:"fixed"`
	FixFailed  int    `json:"fixFailed"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// ConsistencyRequest asks for an out-of-schedule run of one entity.
type ConsistencyRequest struct {
	EntityName string `json:"entityName"`
}
