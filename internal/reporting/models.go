package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Overview aggregates calls that started inside Range.
type Overview struct {
	Range TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	// AverageDurationSeconds covers finalized calls only.
	AverageDurationSeconds float64 `json:"avg_duration"`
	TotalDurationSeconds   int     `json:"total_duration_seconds"`

	// ActiveClients counts distinct clients that received a call.
	ActiveClients int `json:"active_clients"`
}

// DayVolume is the number of calls started on one UTC day.
type DayVolume struct {
	Date      string `json:"date"`
	CallCount int    `json:"call_count"`
}
