package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call outcomes for one org.
// Org isolation: OrgID is required.

type CallsSummaryRequest struct {
	OrgID string    `json:"org_id"`
	Range TimeRange `json:"range"`
}

type CallsSummary struct {
	OrgID string `json:"org_id"`

	TotalCalls    int `json:"total_calls"`
	EndedCalls    int `json:"ended_calls"`
	DeclinedCalls int `json:"declined_calls"`
	CanceledCalls int `json:"canceled_calls"`
	MissedCalls   int `json:"missed_calls"`
	ActiveCalls   int `json:"active_calls"`

	// AnswerRate is the share of resolved calls a staff member picked up.
	AnswerRate float64 `json:"answer_rate"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}
